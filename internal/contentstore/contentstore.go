// Package contentstore publishes final upload bytes to a content-addressed
// network and returns the identifier it assigns. Publishing is optional: the
// upload pipeline treats every error from this package as non-fatal.
package contentstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"scrubapi/internal/config"
)

var (
	// ErrUnreachable covers transport failures, timeouts and 5xx answers.
	ErrUnreachable = errors.New("content store unreachable")
	// ErrRejected means the store answered but refused the content.
	ErrRejected = errors.New("content store rejected content")
	// ErrMisconfigured is only returned by New; it is fatal at startup.
	ErrMisconfigured = errors.New("content store misconfigured")
)

// Publisher stores bytes and returns their content identifier.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, data []byte) (string, error)
}

// Disabled is the Publisher used when no content store is configured. It
// returns an empty identifier and no error.
type Disabled struct{}

func (Disabled) Name() string { return "disabled" }

func (Disabled) Publish(context.Context, []byte) (string, error) { return "", nil }

// New builds the Publisher selected by cfg.Backend.
func New(cfg config.ContentStoreConfig, log zerolog.Logger) (Publisher, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "none", "disabled":
		return Disabled{}, nil
	case "ipfs":
		u, err := parseEndpoint(cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		return NewIPFS(u.String(), cfg.ProjectID, cfg.ProjectSecret, cfg.Timeout, log), nil
	case "s3cas", "s3", "minio":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("%w: CONTENT_STORE_ENDPOINT is required", ErrMisconfigured)
		}
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("%w: CONTENT_STORE_BUCKET is required", ErrMisconfigured)
		}
		return NewS3CAS(cfg, log)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrMisconfigured, cfg.Backend)
	}
}

func parseEndpoint(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: CONTENT_STORE_ENDPOINT is required", ErrMisconfigured)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: endpoint %q must be an http(s) URL", ErrMisconfigured, raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u, nil
}
