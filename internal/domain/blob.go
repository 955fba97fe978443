package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver snapshots rows to cold storage before they are deleted.
type Archiver interface {
	ArchivePositions(ctx context.Context, positions []Position) (path string, err error)
	ArchiveAlerts(ctx context.Context, alerts []Alert) (path string, err error)
}
