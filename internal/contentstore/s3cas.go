package contentstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"scrubapi/internal/config"
)

// objectClient is the subset of *minio.Client used for content addressing.
type objectClient interface {
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3CAS is a content-addressed store on any S3-compatible bucket. Objects are
// keyed by their SHA-256 digest, so publishing the same bytes twice uploads
// them once and yields the same identifier.
type S3CAS struct {
	client  objectClient
	bucket  string
	timeout time.Duration
	log     zerolog.Logger
}

// NewS3CAS connects lazily; the bucket must already exist.
func NewS3CAS(cfg config.ContentStoreConfig, log zerolog.Logger) (*S3CAS, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.ProjectID, cfg.ProjectSecret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &S3CAS{client: cli, bucket: cfg.Bucket, timeout: timeout, log: log}, nil
}

func (s *S3CAS) Name() string { return "s3cas" }

// Publish returns "sha256:<hex>" for data.
func (s *S3CAS) Publish(ctx context.Context, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	key := "sha256/" + digest
	id := "sha256:" + digest

	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		s.log.Debug().Str("cid", id).Msg("content already stored")
		return id, nil
	}
	if !isNotFound(err) {
		return "", classify(err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
}

func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp := minio.ToErrorResponse(err); resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == 0 {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %v", ErrRejected, err)
}
