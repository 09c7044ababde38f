// Package ledger anchors upload fingerprints in an append-only provenance
// ledger and returns a receipt. Anchoring is optional for the upload pipeline:
// callers log a failed anchor and carry on.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"scrubapi/internal/config"
	"scrubapi/internal/hasher"
)

// Mode names the backend that produced a receipt.
type Mode string

const (
	ModeDisabled  Mode = "disabled"
	ModeSimulated Mode = "simulated"
	ModeLive      Mode = "live"
)

// Code classifies ledger failures.
type Code string

const (
	CodeUnreachable         Code = "LEDGER_UNREACHABLE"
	CodeCredentialMissing   Code = "LEDGER_CREDENTIAL_MISSING"
	CodeSubmissionRejected  Code = "LEDGER_SUBMISSION_REJECTED"
	CodeInsufficientBalance Code = "LEDGER_INSUFFICIENT_BALANCE"
)

// Error is returned by every Anchorer on failure.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, err error) *Error { return &Error{Code: code, Err: err} }

// CodeOf returns the ledger code carried by err, or "" when err is not a ledger error.
func CodeOf(err error) Code {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// Descriptor is the public, non-identifying description of an upload that is
// written next to its fingerprint.
type Descriptor struct {
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	Cleaned      bool   `json:"cleaned"`
}

// Receipt proves an anchor. A simulated receipt never touched a network and
// says so.
type Receipt struct {
	TransactionID string    `json:"transactionId"`
	Mode          Mode      `json:"mode"`
	ChainID       uint64    `json:"chainId,omitempty"`
	BlockNumber   uint64    `json:"blockNumber,omitempty"`
	GasUsed       uint64    `json:"gasUsed,omitempty"`
	Simulated     bool      `json:"simulated"`
	AnchoredAt    time.Time `json:"anchoredAt"`
}

// Anchorer records a fingerprint and optional content identifier.
type Anchorer interface {
	Mode() Mode
	Anchor(ctx context.Context, fp hasher.Fingerprint, contentID string, d Descriptor) (*Receipt, error)
}

// Disabled never anchors and returns no receipt.
type Disabled struct{}

func (Disabled) Mode() Mode { return ModeDisabled }

func (Disabled) Anchor(context.Context, hasher.Fingerprint, string, Descriptor) (*Receipt, error) {
	return nil, nil
}

// New selects the backend from configuration alone. LEDGER_MODE=disabled turns
// anchoring off. The live backend is used only for LEDGER_MODE=live in
// production with an RPC endpoint; every other combination gets the simulated
// backend.
func New(cfg config.LedgerConfig, appEnv string, log zerolog.Logger) (Anchorer, error) {
	switch strings.ToLower(cfg.Mode) {
	case string(ModeDisabled), "none", "off":
		return Disabled{}, nil
	}

	live := strings.EqualFold(cfg.Mode, string(ModeLive))
	if !live || !strings.EqualFold(appEnv, "production") || cfg.RPCURL == "" {
		if live {
			log.Warn().Str("app_env", appEnv).Bool("rpc_configured", cfg.RPCURL != "").
				Msg("live ledger requested outside production or without RPC endpoint, using simulated ledger")
		}
		return NewSimulated(), nil
	}
	return NewEthereum(cfg, log)
}
