package s3blob

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

type fakeWriter struct {
	objects   map[string][]byte
	types     map[string]string
	multipart int
	err       error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if f.err != nil {
		return f.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = b
	f.types[path] = contentType
	return nil
}

func (f *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	f.multipart++
	return f.Put(context.Background(), path, data, "")
}

func fixedArchiver(w domain.BlobWriter) *Archiver {
	a := NewArchiver(w)
	a.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestArchivePositions(t *testing.T) {
	w := newFakeWriter()
	a := fixedArchiver(w)

	positions := []domain.Position{
		{ID: "p1", Symbol: "BTCUSDT", Direction: domain.DirectionLong},
		{ID: "p2", Symbol: "ETHUSDT", Direction: domain.DirectionShort},
	}
	path, err := a.ArchivePositions(context.Background(), positions)
	require.NoError(t, err)
	assert.Equal(t, "archive/positions/20240501T120000.000Z.json", path)
	assert.Equal(t, contentTypeJSON, w.types[path])

	var doc struct {
		Kind  string            `json:"kind"`
		Count int               `json:"count"`
		Items []domain.Position `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.objects[path], &doc))
	assert.Equal(t, "positions", doc.Kind)
	assert.Equal(t, 2, doc.Count)
	assert.Equal(t, "p2", doc.Items[1].ID)
}

func TestArchiveAlerts_Empty(t *testing.T) {
	w := newFakeWriter()
	path, err := fixedArchiver(w).ArchiveAlerts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Empty(t, w.objects)
}

func TestArchive_UploadError(t *testing.T) {
	w := newFakeWriter()
	w.err = errors.New("bucket gone")
	_, err := fixedArchiver(w).ArchiveAlerts(context.Background(), []domain.Alert{{ID: "a1"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, w.err)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
}

func TestNew_RequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	assert.Error(t, err)
}
