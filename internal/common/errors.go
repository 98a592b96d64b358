// Package common defines shared constants and sentinel errors used across
// the driftsend server layers. Callers should use errors.Is to match these
// values; handlers translate them into machine-readable response codes.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Gate errors on the download path. ErrExpired is deliberately distinct
	// from ErrNotFound: an expired link once worked and the recipient should
	// be told so.
	ErrExpired              = errors.New("transfer expired")
	ErrForbidden            = errors.New("forbidden")
	ErrPasswordRequired     = errors.New("password required")
	ErrInvalidPassword      = errors.New("invalid password")
	ErrDownloadLimitReached = errors.New("download limit reached")

	// Quota errors, one per violation so the caller can render
	// plan-specific messaging.
	ErrStorageQuotaExceeded  = errors.New("storage quota exceeded")
	ErrTransferQuotaExceeded = errors.New("monthly transfer quota exceeded")
	ErrTooManyFiles          = errors.New("too many files in transfer")
	ErrFeatureNotAvailable   = errors.New("feature not available on this plan")

	// Validation errors (client-fixable, never retried automatically).
	ErrValidation       = errors.New("validation error")
	ErrEmptyFile        = errors.New("empty file")
	ErrFileTooLarge     = errors.New("file too large")
	ErrBlockedExtension = errors.New("blocked file extension")
	ErrWeakPassword     = errors.New("password too weak")

	// Auth.
	ErrUnauthorized = errors.New("unauthorized")
)
