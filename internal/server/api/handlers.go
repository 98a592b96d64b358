package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"driftsend/internal/common"
	"driftsend/internal/server/services"
)

// Handler holds the HTTP handlers for the transfer API.
type Handler struct {
	transfers *services.TransferService
	downloads *services.DownloadService
	zips      *services.ZipService
	db        *sql.DB
}

func NewHandler(transfers *services.TransferService, downloads *services.DownloadService,
	zips *services.ZipService, db *sql.DB) *Handler {
	return &Handler{transfers: transfers, downloads: downloads, zips: zips, db: db}
}

func errorBody(code, message string) echo.Map {
	return echo.Map{"error": code, "message": message}
}

type createFileRequest struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	ByteSize int64  `json:"byte_size"`
	EncKey   []byte `json:"enc_key,omitempty"`
	EncIV    []byte `json:"enc_iv,omitempty"`
}

type createRequest struct {
	Title          string              `json:"title"`
	Message        string              `json:"message"`
	RecipientEmail string              `json:"recipient_email"`
	SenderEmail    string              `json:"sender_email"`
	Password       string              `json:"password"`
	ExpiryDays     int                 `json:"expiry_days"`
	OwnerOnly      bool                `json:"owner_only"`
	MaxDownloads   int64               `json:"max_downloads"`
	Encrypted      bool                `json:"encrypted"`
	EncryptionAlgo string              `json:"encryption_algo"`
	Files          []createFileRequest `json:"files"`
}

// HandleCreate handles POST /api/transfers. The body declares the file
// manifest; the response carries one presigned upload URL per file.
func (h *Handler) HandleCreate(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("bad_request", "malformed request body"))
	}

	in := services.CreateInput{
		Title:          req.Title,
		Message:        req.Message,
		RecipientEmail: req.RecipientEmail,
		SenderEmail:    req.SenderEmail,
		Password:       req.Password,
		ExpiryDays:     req.ExpiryDays,
		OwnerOnly:      req.OwnerOnly,
		MaxDownloads:   req.MaxDownloads,
		Encrypted:      req.Encrypted,
		EncryptionAlgo: req.EncryptionAlgo,
		Files:          make([]services.ManifestEntry, 0, len(req.Files)),
	}
	for _, f := range req.Files {
		in.Files = append(in.Files, services.ManifestEntry{
			Name:     f.Name,
			MimeType: f.MimeType,
			ByteSize: f.ByteSize,
			EncKey:   f.EncKey,
			EncIV:    f.EncIV,
		})
	}

	result, err := h.transfers.Create(c.Request().Context(), viewerFrom(c), in)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

// password pulls the transfer password from the request: header first, then
// query param for links.
func password(c echo.Context) string {
	if p := c.Request().Header.Get("X-Transfer-Password"); p != "" {
		return p
	}
	return c.QueryParam("password")
}

// HandleGet handles GET /api/transfers/:id and returns the share-page
// metadata.
func (h *Handler) HandleGet(c echo.Context) error {
	view, err := h.downloads.Get(c.Request().Context(), viewerFrom(c), c.Param("id"), password(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

type verifyPasswordRequest struct {
	Password string `json:"password"`
}

// HandleVerifyPassword handles POST /api/transfers/:id/password so the UI
// can unlock a protected transfer in one round trip.
func (h *Handler) HandleVerifyPassword(c echo.Context) error {
	var req verifyPasswordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("bad_request", "malformed request body"))
	}

	if err := h.downloads.VerifyPassword(c.Request().Context(), viewerFrom(c), c.Param("id"), req.Password); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"valid": true})
}

// HandleFileURL handles GET /api/transfers/:id/files/:fileID/url and
// returns a short-lived presigned download URL for one file.
func (h *Handler) HandleFileURL(c echo.Context) error {
	fileID, err := strconv.ParseInt(c.Param("fileID"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("bad_request", "invalid file id"))
	}

	url, err := h.downloads.FileURL(c.Request().Context(), viewerFrom(c), c.Param("id"), fileID, password(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"url": url})
}

// attachmentWriter defers the archive headers until the first byte of the
// archive is written, so gate-failure JSON responses never carry an
// attachment Content-Disposition.
type attachmentWriter struct {
	res   *echo.Response
	name  string
	wrote bool
}

func (w *attachmentWriter) Write(p []byte) (int, error) {
	if !w.wrote {
		w.wrote = true
		h := w.res.Header()
		h.Set(echo.HeaderContentType, "application/zip")
		h.Set(echo.HeaderContentDisposition, `attachment; filename="`+w.name+`.zip"`)
	}
	return w.res.Write(p)
}

// HandleZip handles GET /api/transfers/:id/zip, streaming every file of the
// transfer as one archive. Headers go out with the first archive byte, so a
// mid-stream failure truncates the archive rather than producing a clean
// error status, while gate failures still return a plain JSON error.
func (h *Handler) HandleZip(c echo.Context) error {
	publicID := c.Param("id")
	res := c.Response()

	err := h.zips.StreamZip(c.Request().Context(), viewerFrom(c), publicID, password(c),
		&attachmentWriter{res: res, name: publicID})
	if err != nil && !res.Committed {
		return mapServiceError(c, err)
	}
	return err
}

// HandleDelete handles DELETE /api/transfers/:id.
func (h *Handler) HandleDelete(c echo.Context) error {
	if err := h.transfers.Delete(c.Request().Context(), viewerFrom(c), c.Param("id")); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "transfer deleted"})
}

// HandleMarkUploaded handles POST /api/transfers/:id/files/:fileID/uploaded.
func (h *Handler) HandleMarkUploaded(c echo.Context) error {
	fileID, err := strconv.ParseInt(c.Param("fileID"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("bad_request", "invalid file id"))
	}

	if err := h.transfers.MarkUploaded(c.Request().Context(), viewerFrom(c), c.Param("id"), fileID); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "upload recorded"})
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := http.StatusOK
	dbStatus := "connected"
	if err := h.db.PingContext(c.Request().Context()); err != nil {
		status = http.StatusServiceUnavailable
		dbStatus = "unreachable"
	}
	return c.JSON(status, echo.Map{"status": dbStatus})
}

// mapServiceError translates service-layer sentinels into HTTP responses
// with stable machine-readable codes.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody("not_found", "transfer not found"))
	case errors.Is(err, common.ErrExpired):
		return c.JSON(http.StatusGone, errorBody("expired", "transfer has expired"))
	case errors.Is(err, common.ErrForbidden):
		return c.JSON(http.StatusForbidden, errorBody("forbidden", "you do not have access to this transfer"))
	case errors.Is(err, common.ErrPasswordRequired):
		return c.JSON(http.StatusUnauthorized, errorBody("password_required", "this transfer is password protected"))
	case errors.Is(err, common.ErrInvalidPassword):
		return c.JSON(http.StatusForbidden, errorBody("invalid_password", "wrong password"))
	case errors.Is(err, common.ErrDownloadLimitReached):
		return c.JSON(http.StatusGone, errorBody("download_limit_reached", "download limit reached"))
	case errors.Is(err, common.ErrStorageQuotaExceeded):
		return c.JSON(http.StatusForbidden, errorBody("storage_quota_exceeded", "storage quota exceeded"))
	case errors.Is(err, common.ErrTransferQuotaExceeded):
		return c.JSON(http.StatusForbidden, errorBody("transfer_quota_exceeded", "monthly transfer quota exceeded"))
	case errors.Is(err, common.ErrTooManyFiles):
		return c.JSON(http.StatusBadRequest, errorBody("too_many_files", "too many files for your plan"))
	case errors.Is(err, common.ErrFeatureNotAvailable):
		return c.JSON(http.StatusForbidden, errorBody("feature_not_available", "this feature is not available on your plan"))
	case errors.Is(err, common.ErrEmptyFile):
		return c.JSON(http.StatusBadRequest, errorBody("empty_file", "zero-byte files cannot be transferred"))
	case errors.Is(err, common.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, errorBody("file_too_large", "file exceeds your plan's size limit"))
	case errors.Is(err, common.ErrBlockedExtension):
		return c.JSON(http.StatusBadRequest, errorBody("blocked_extension", "this file type is not allowed"))
	case errors.Is(err, common.ErrWeakPassword):
		return c.JSON(http.StatusBadRequest, errorBody("weak_password", "password is too weak"))
	case errors.Is(err, common.ErrValidation):
		return c.JSON(http.StatusBadRequest, errorBody("bad_request", err.Error()))
	case errors.Is(err, common.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "authentication required"))
	default:
		return c.JSON(http.StatusInternalServerError, errorBody("internal", "internal server error"))
	}
}
