// Package blob is the per-bucket artifact store facade. Backends are
// pluggable per bucket: a local filesystem root, or an S3-compatible
// object store.
package blob

import (
	"context"
	"errors"
	"time"
)

// ErrNotExist is returned by Stat and Read for missing objects.
var ErrNotExist = errors.New("blob: object does not exist")

// Info is object metadata. LastModified has 1-second resolution.
type Info struct {
	LastModified time.Time
	Size         int64
}

// Store is a per-bucket blob KV. Writes are atomic from a reader's
// perspective; concurrent writes to the same path resolve
// last-writer-wins. PresignRead returns a time-limited URL for the
// object: local backends synthesize one with the presign codec,
// remote backends delegate to the backend's own presigning.
type Store interface {
	Exists(ctx context.Context, path string) (bool, error)
	Stat(ctx context.Context, path string) (Info, error)
	Write(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	PresignRead(ctx context.Context, path string, ttl time.Duration) (string, error)
}
