package postgres

import (
	"context"
	"database/sql"

	"scrubapi/internal/model"
	"scrubapi/internal/repository"
)

// FilePostgres is a PostgreSQL implementation of repository.FileRepository.
// It uses database/sql with parameterized queries and contains no business logic.
// Metadata columns are JSONB, encoded through model.Metadata's Valuer/Scanner.
type FilePostgres struct {
	db *sql.DB
}

// NewFilePostgres creates a new FilePostgres repository.
func NewFilePostgres(db *sql.DB) *FilePostgres {
	return &FilePostgres{db: db}
}

var _ repository.FileRepository = (*FilePostgres)(nil)

const fileColumns = `id, original_name, mime_type, size, storage_path, hash, hash_algorithm,
		content_id, ledger_tx_id, ledger_mode, original_metadata, cleaned_metadata,
		owner_id, status, cleaned, scrub_strategy, error, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*model.FileRecord, error) {
	var f model.FileRecord
	if err := s.Scan(
		&f.ID,
		&f.OriginalName,
		&f.MimeType,
		&f.Size,
		&f.StoragePath,
		&f.Hash,
		&f.HashAlgorithm,
		&f.ContentID,
		&f.LedgerTxID,
		&f.LedgerMode,
		&f.OriginalMetadata,
		&f.CleanedMetadata,
		&f.OwnerID,
		&f.Status,
		&f.Cleaned,
		&f.ScrubStrategy,
		&f.Error,
		&f.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &f, nil
}

// Create inserts a new file row and returns the stored record.
func (r *FilePostgres) Create(ctx context.Context, rec *model.FileRecord) (*model.FileRecord, error) {
	const q = `
		INSERT INTO files (` + fileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING ` + fileColumns
	row := r.db.QueryRowContext(ctx, q,
		rec.ID,
		rec.OriginalName,
		rec.MimeType,
		rec.Size,
		rec.StoragePath,
		rec.Hash,
		rec.HashAlgorithm,
		rec.ContentID,
		rec.LedgerTxID,
		rec.LedgerMode,
		rec.OriginalMetadata,
		rec.CleanedMetadata,
		rec.OwnerID,
		rec.Status,
		rec.Cleaned,
		rec.ScrubStrategy,
		rec.Error,
		rec.CreatedAt,
	)
	return scanFile(row)
}

// FindByID fetches a single record by its ID.
func (r *FilePostgres) FindByID(ctx context.Context, id string) (*model.FileRecord, error) {
	const q = `SELECT ` + fileColumns + ` FROM files WHERE id = $1`
	return scanFile(r.db.QueryRowContext(ctx, q, id))
}

// FindByHash fetches the newest record with the given content hash.
func (r *FilePostgres) FindByHash(ctx context.Context, owner, hash string) (*model.FileRecord, error) {
	const q = `SELECT ` + fileColumns + ` FROM files
		WHERE hash = $1 AND ($2 = '' OR owner_id = $2)
		ORDER BY created_at DESC, id DESC LIMIT 1`
	return scanFile(r.db.QueryRowContext(ctx, q, hash, owner))
}

// ListByOwner returns records using LIMIT/OFFSET pagination and a total count.
func (r *FilePostgres) ListByOwner(ctx context.Context, owner string, pq repository.PageQuery) (*repository.PageResult[model.FileRecord], error) {
	const qCount = `SELECT COUNT(*) FROM files WHERE ($1 = '' OR owner_id = $1)`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount, owner).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `SELECT ` + fileColumns + ` FROM files
		WHERE ($1 = '' OR owner_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, qList, owner, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.FileRecord, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.FileRecord]{
		Items: items,
		Total: total,
	}, nil
}

// Delete removes a record by ID. It does not return an error if the row does not exist.
func (r *FilePostgres) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM files WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}
