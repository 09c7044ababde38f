package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"scrubapi/internal/hasher"
)

// Simulated issues receipts with random transaction ids and no network access.
type Simulated struct {
	now func() time.Time
}

func NewSimulated() *Simulated { return &Simulated{now: time.Now} }

func (s *Simulated) Mode() Mode { return ModeSimulated }

func (s *Simulated) Anchor(ctx context.Context, _ hasher.Fingerprint, _ string, _ Descriptor) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(CodeUnreachable, err)
	}
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, newError(CodeSubmissionRejected, fmt.Errorf("generate transaction id: %w", err))
	}
	return &Receipt{
		TransactionID: "0x" + hex.EncodeToString(b[:]),
		Mode:          ModeSimulated,
		Simulated:     true,
		AnchoredAt:    s.now().UTC(),
	}, nil
}
