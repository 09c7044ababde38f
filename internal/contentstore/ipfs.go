package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// IPFS publishes through the HTTP RPC API of an IPFS node or pinning service.
type IPFS struct {
	endpoint string
	user     string
	secret   string
	timeout  time.Duration
	client   *http.Client
	log      zerolog.Logger
}

// NewIPFS returns a publisher for endpoint, e.g. https://ipfs.example.com:5001.
// user and secret are sent as basic auth when user is set.
func NewIPFS(endpoint, user, secret string, timeout time.Duration, log zerolog.Logger) *IPFS {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &IPFS{
		endpoint: endpoint,
		user:     user,
		secret:   secret,
		timeout:  timeout,
		client:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		log:      log,
	}
}

func (p *IPFS) Name() string { return "ipfs" }

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Publish adds and pins data, returning its CIDv1.
func (p *IPFS) Publish(ctx context.Context, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "blob")
	if err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/v0/add?cid-version=1&pin=true", &body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if p.user != "" {
		req.SetBasicAuth(p.user, p.secret)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out addResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode add response: %v", ErrRejected, err)
	}
	if out.Hash == "" {
		return "", fmt.Errorf("%w: add response has no hash", ErrRejected)
	}
	p.log.Debug().Str("cid", out.Hash).Str("size", out.Size).Msg("content pinned")
	return out.Hash, nil
}
