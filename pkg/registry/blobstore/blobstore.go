package blobstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotExist is returned when a blob id does not resolve to stored bytes.
var ErrNotExist = errors.New("blob does not exist")

// BlobStore moves opaque artifact payloads in and out, keyed by a
// store-assigned id. Implementations must stream: artifacts of 200 MiB and
// up are never held in memory as a whole.
type BlobStore interface {
	// Put consumes r fully and returns the new blob id and byte count.
	Put(ctx context.Context, r io.Reader) (id string, size int64, err error)
	// Open returns a read stream for the blob. Closing the stream releases
	// the underlying handle; a caller may close early to cancel a download.
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	// Delete removes the blob. Deleting an absent blob is not an error.
	Delete(ctx context.Context, id string) error
	// List returns all stored blobs, in no particular order.
	List(ctx context.Context) ([]BlobInfo, error)
}

// BlobInfo describes one stored blob. StoredAt lets the orphan sweep leave
// freshly written blobs alone while their metadata is still in flight.
type BlobInfo struct {
	Id       string
	Size     int64
	StoredAt time.Time
}
