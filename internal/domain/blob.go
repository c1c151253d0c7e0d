package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves published snapshots to cold storage.
type Archiver interface {
	ArchiveSnapshot(ctx context.Context, snap Snapshot) (string, error)
}
