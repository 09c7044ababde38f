// Package model contains the domain data structures shared across layers.
package model

import "time"

// FileStatus is the lifecycle state of a FileRecord.
type FileStatus string

const (
	StatusPending   FileStatus = "pending"
	StatusProcessed FileStatus = "processed"
	StatusFailed    FileStatus = "failed"
)

// UploadJob is one request's unit of work. It is built once the request has
// been decoded and is never modified afterwards.
type UploadJob struct {
	ID           string
	Filename     string
	MimeType     string
	DeclaredSize int64
	Data         []byte
	OwnerID      string
}

// FileRecord is the persisted provenance record of a processed upload.
// The pipeline writes it exactly once at the end of a job.
type FileRecord struct {
	ID               string     `json:"id"`
	OriginalName     string     `json:"original_name"`
	MimeType         string     `json:"mime_type"`
	Size             int64      `json:"size"`
	StoragePath      string     `json:"storage_path"`
	Hash             string     `json:"hash"`
	HashAlgorithm    string     `json:"hash_algorithm"`
	ContentID        *string    `json:"content_id"`
	LedgerTxID       *string    `json:"ledger_tx_id"`
	LedgerMode       string     `json:"ledger_mode,omitempty"`
	OriginalMetadata Metadata   `json:"original_metadata"`
	CleanedMetadata  Metadata   `json:"cleaned_metadata"`
	OwnerID          string     `json:"owner_id"`
	Status           FileStatus `json:"status"`
	Cleaned          bool       `json:"cleaned"`
	ScrubStrategy    string     `json:"scrub_strategy,omitempty"`
	Error            string     `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
