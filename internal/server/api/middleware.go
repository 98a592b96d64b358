package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"driftsend/internal/logging"
	"driftsend/internal/ratelimit"
	"driftsend/internal/server/auth"
	"driftsend/internal/server/services"
)

const identityKey = "viewer-identity"

// Identity middleware resolves the caller before any handler runs. A valid
// bearer token yields an account identity; an X-Anon-Id header that parses
// as a minted pseudo-id yields an anonymous one. Anything else is a plain
// anonymous caller. A malformed bearer token is rejected rather than
// silently downgraded, so a client with an expired session sees 401 instead
// of quota surprises.
func Identity(secretKey []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var viewer services.Identity

			if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
				token, ok := strings.CutPrefix(h, "Bearer ")
				if !ok {
					return c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "malformed authorization header"))
				}
				accountID, err := auth.AccountIDFromToken(token, secretKey)
				if err != nil {
					return c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "invalid or expired token"))
				}
				viewer.AccountID = accountID
			} else if anonID := c.Request().Header.Get("X-Anon-Id"); services.ValidAnonID(anonID) {
				viewer.AnonID = anonID
			}

			c.Set(identityKey, viewer)
			return next(c)
		}
	}
}

func viewerFrom(c echo.Context) services.Identity {
	if v, ok := c.Get(identityKey).(services.Identity); ok {
		return v
	}
	return services.Identity{}
}

// RateLimit enforces the per-class cap keyed by the caller's identity, or
// the remote IP for callers with none.
func RateLimit(limiter *ratelimit.Limiter, class ratelimit.Class) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			viewer := viewerFrom(c)
			clientID := viewer.AccountID
			if clientID == "" {
				clientID = viewer.AnonID
			}
			if clientID == "" {
				clientID = c.RealIP()
			}

			d := limiter.Allow(c.Request().Context(), class, clientID)
			if !d.Allowed {
				retry := int(d.RetryAfter.Seconds()) + 1
				c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
				return c.JSON(http.StatusTooManyRequests, errorBody("rate_limited", "too many requests, slow down"))
			}
			return next(c)
		}
	}
}

// RequestLogger logs one structured line per request.
func RequestLogger(log logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()
			log.Info(req.Context(), "request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"bytes_out", res.Size,
			)
			return err
		}
	}
}
