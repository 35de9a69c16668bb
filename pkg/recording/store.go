// Package recording captures a session's microphone audio as a WAV file in
// a pluggable object store.
//
// Two stores are provided: Local writes under a directory, S3Store writes to
// Amazon S3 or any S3-compatible service (MinIO, R2, ...).
package recording

import (
	"context"
	"io"
)

// Store is a minimal object store for recordings.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type Store interface {
	// Write opens the named object for writing, replacing any existing one.
	// The object is complete once the returned writer has been closed.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Read opens the named object. A missing object yields an error wrapping
	// os.ErrNotExist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Location returns a human-readable address for path, such as an
	// absolute file name or an s3:// URL.
	Location(path string) string
}
