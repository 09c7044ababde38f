package storage

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrubapi/internal/config"
)

func TestValidKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"files/abc/photo.jpg", true},
		{"photo.jpg", true},
		{"", false},
		{"/etc/passwd", false},
		{"files/../../etc/passwd", false},
		{"files//x", false},
		{"files/./x", false},
		{`files\x`, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidKey(tt.key), tt.key)
	}
}

func TestLocalStorageRoundTrip(t *testing.T) {
	root := filepath.Join(t.TempDir(), "artifacts")
	s, err := NewLocal(root)
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte("scrubbed bytes")
	info, err := s.Put(ctx, "files/id-1/photo.jpg", bytes.NewReader(data), PutObjectOptions{Size: int64(len(data)), ContentType: "image/jpeg"})
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, "files/id-1/photo.jpg", info.Key)
	assert.Len(t, info.ETag, 32)

	rc, got, err := s.Get(ctx, "files/id-1/photo.jpg")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, body)
	assert.Equal(t, "image/jpeg", got.ContentType)
	assert.Equal(t, int64(len(data)), got.Size)

	entries, err := os.ReadDir(filepath.Join(root, "files", "id-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	require.NoError(t, s.Delete(ctx, "files/id-1/photo.jpg"))
	require.NoError(t, s.Delete(ctx, "files/id-1/photo.jpg"))
	_, _, err = s.Get(ctx, "files/id-1/photo.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoDirExists(t, filepath.Join(root, "files", "id-1"))
}

func TestLocalStorageRejectsBadInput(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Put(ctx, "../escape", strings.NewReader("x"), PutObjectOptions{Size: 1})
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = s.Put(ctx, "files/short.bin", strings.NewReader("abc"), PutObjectOptions{Size: 10})
	assert.Error(t, err)
	_, _, err = s.Get(ctx, "files/short.bin")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.PresignGet(ctx, "files/x", time.Minute)
	assert.ErrorIs(t, err, ErrPresignUnsupported)

	_, err = NewLocal("")
	assert.Error(t, err)
}

func TestS3PresignGet(t *testing.T) {
	s, err := NewS3(context.Background(), config.S3Config{
		Region:       "eu-west-1",
		Endpoint:     "http://localhost:9000",
		AccessKey:    "access",
		SecretKey:    "secret",
		Bucket:       "artifacts",
		UsePathStyle: true,
	})
	require.NoError(t, err)

	raw, err := s.PresignGet(context.Background(), "files/id-1/photo.jpg", 10*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/artifacts/files/id-1/photo.jpg", u.Path)
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
	assert.Contains(t, u.Query().Get("X-Amz-Credential"), "access/")
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(context.Background(), config.StorageConfig{Backend: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &localStorage{}, s)

	_, err = New(context.Background(), config.StorageConfig{Backend: "gcs"})
	assert.Error(t, err)

	_, err = New(context.Background(), config.StorageConfig{Backend: "s3"})
	assert.Error(t, err)
}
