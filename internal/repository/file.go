// Package repository contains data access layer abstractions.
// Implementations live in subpackages (e.g., postgres) inside this directory.
package repository

import (
	"context"

	"scrubapi/internal/model"
)

// FileRepository defines data access for upload provenance records using SQL queries only.
// No business logic here; strictly persistence operations.
type FileRepository interface {
	// Create inserts a new record. The pipeline calls it exactly once per upload,
	// after every stage has run. Returns the stored record.
	Create(ctx context.Context, rec *model.FileRecord) (*model.FileRecord, error)

	// FindByID returns a record by its ID, or sql.ErrNoRows.
	FindByID(ctx context.Context, id string) (*model.FileRecord, error)

	// ListByOwner returns a page of records for owner, newest first.
	// An empty owner lists every record.
	ListByOwner(ctx context.Context, owner string, pq PageQuery) (*PageResult[model.FileRecord], error)

	// FindByHash returns owner's newest record whose final bytes had the given
	// digest, or sql.ErrNoRows. An empty owner searches every record.
	FindByHash(ctx context.Context, owner, hash string) (*model.FileRecord, error)

	// Delete removes a record by ID. It returns nil if the row was deleted or did not exist.
	Delete(ctx context.Context, id string) error
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}
