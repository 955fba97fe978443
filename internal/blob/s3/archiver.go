package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

const (
	contentTypeJSON = "application/json"

	// Snapshots above this size go through the multipart uploader.
	multipartThreshold int64 = 8 * 1024 * 1024
	multipartPartSize  int64 = 8 * 1024 * 1024
)

// Archiver implements domain.Archiver by writing one JSON document per bulk
// clear under archive/<kind>/<timestamp>.json.
type Archiver struct {
	writer domain.BlobWriter
	now    func() time.Time
}

// NewArchiver creates an Archiver on top of writer.
func NewArchiver(writer domain.BlobWriter) *Archiver {
	return &Archiver{writer: writer, now: time.Now}
}

// snapshot is the archived document.
type snapshot[T any] struct {
	Kind       string    `json:"kind"`
	ArchivedAt time.Time `json:"archived_at"`
	Count      int       `json:"count"`
	Items      []T       `json:"items"`
}

// ArchivePositions uploads positions and returns the object path. An empty
// slice archives nothing and returns "".
func (a *Archiver) ArchivePositions(ctx context.Context, positions []domain.Position) (string, error) {
	return archive(ctx, a, "positions", positions)
}

// ArchiveAlerts uploads alerts and returns the object path.
func (a *Archiver) ArchiveAlerts(ctx context.Context, alerts []domain.Alert) (string, error) {
	return archive(ctx, a, "alerts", alerts)
}

func archive[T any](ctx context.Context, a *Archiver, kind string, items []T) (string, error) {
	if len(items) == 0 {
		return "", nil
	}

	at := a.now().UTC()
	buf, err := json.Marshal(snapshot[T]{Kind: kind, ArchivedAt: at, Count: len(items), Items: items})
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, at)
	if int64(len(buf)) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSON)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	return path, nil
}

// archivePath builds keys such as archive/positions/20240501T120000.000Z.json.
func archivePath(kind string, at time.Time) string {
	return fmt.Sprintf("archive/%s/%s.json", kind, at.Format("20060102T150405.000Z"))
}

var _ domain.Archiver = (*Archiver)(nil)
