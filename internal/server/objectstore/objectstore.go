// Package objectstore adapts an S3-compatible blob service. File bytes never
// pass through this server on upload: clients talk to the store directly via
// presigned URLs minted here.
package objectstore

import (
	"context"
	"time"
)

// Store is the object-store surface the services depend on.
type Store interface {
	// PresignUpload returns a time-limited URL granting one PUT of the key.
	PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)

	// PresignDownload returns a time-limited GET URL. filenameHint, when
	// non-empty, is baked into the response Content-Disposition so the
	// browser saves under the stored name.
	PresignDownload(ctx context.Context, key string, ttl time.Duration, filenameHint string) (string, error)

	// Delete removes the object. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}
