package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"scrubapi/internal/config"
	"scrubapi/internal/contentstore"
	"scrubapi/internal/hasher"
	"scrubapi/internal/ledger"
	"scrubapi/internal/logger"
	"scrubapi/internal/metrics"
	"scrubapi/internal/model"
	"scrubapi/internal/repository"
	"scrubapi/internal/scanner"
	"scrubapi/internal/scrubber"
	"scrubapi/internal/storage"
	"scrubapi/internal/tempfile"
)

// UploadRequest is a decoded upload. Size is the size the client declared and
// must match len(Data).
type UploadRequest struct {
	Filename string
	MimeType string
	Size     int64
	Data     []byte
	OwnerID  string
}

// UploadResult is returned for an accepted upload. Optional stages that did
// not produce a value are reported as explicit nulls.
type UploadResult struct {
	FileID            string          `json:"fileId"`
	OriginalName      string          `json:"originalName"`
	MimeType          string          `json:"mimeType"`
	Size              int64           `json:"size"`
	Hash              string          `json:"hash"`
	HashAlgorithm     string          `json:"hashAlgorithm"`
	ContentIdentifier *string         `json:"contentIdentifier"`
	LedgerReceipt     *ledger.Receipt `json:"ledgerReceipt"`
	DownloadURL       string          `json:"downloadUrl"`
	Metadata          model.Metadata  `json:"metadata"`
	Cleaned           bool            `json:"cleaned"`
	SensitiveFields   []string        `json:"sensitiveFields"`
	Strategy          string          `json:"strategy,omitempty"`
	Message           string          `json:"message"`
}

// FileListResult is the service-level DTO for paginated files.
type FileListResult struct {
	Items []model.FileRecord `json:"data"`
	Total int                `json:"total"`
}

// Download describes how to hand a stored artifact to a client. Exactly one of
// URL and Body is set; the caller closes Body.
type Download struct {
	Record *model.FileRecord
	URL    string
	Body   io.ReadCloser
	Info   storage.ObjectInfo
}

// FileService defines the use cases for handling uploaded files.
type FileService interface {
	// Process validates, scrubs, fingerprints, stores and anchors one upload.
	// Only *ValidationError and ErrPersistence are returned; every other stage
	// degrades instead of failing.
	Process(ctx context.Context, req UploadRequest) (*UploadResult, error)

	// List returns files of owner using limit/offset.
	List(ctx context.Context, owner string, limit, offset int) (*FileListResult, error)

	// Get returns a single file record of owner by its ID. Records of other
	// owners are reported as ErrNotFound.
	Get(ctx context.Context, owner, id string) (*model.FileRecord, error)

	// Lookup returns owner's newest record whose artifact has the given fingerprint.
	Lookup(ctx context.Context, owner, hash string) (*model.FileRecord, error)

	// Download resolves a presigned URL, or opens the artifact for streaming
	// when the storage backend cannot presign.
	Download(ctx context.Context, owner, id string) (*Download, error)

	// Delete removes owner's file by ID from both storage and repository.
	Delete(ctx context.Context, owner, id string) error
}

// Dependencies are the collaborators of the pipeline. Registry, Storage and
// Repo are required; the rest fall back to disabled or simulated stages.
type Dependencies struct {
	Registry *tempfile.Registry
	Scrubber *scrubber.Scrubber
	Scanner  scanner.Scanner
	Hasher   *hasher.Hasher
	Storage  storage.Storage
	Content  contentstore.Publisher
	Ledger   ledger.Anchorer
	Repo     repository.FileRepository
	Metrics  *metrics.Pipeline
	Logger   zerolog.Logger
}

// Limits are the upload acceptance rules.
type Limits struct {
	MaxSize        int64
	AllowedTypes   []string
	DownloadPrefix string
	PresignExpiry  time.Duration
	// StorageTimeout bounds each object store call.
	StorageTimeout time.Duration
	// QueryTimeout bounds each repository call.
	QueryTimeout time.Duration
}

const (
	defaultListLimit      = 10
	maxListLimit          = 100
	defaultStorageTimeout = 60 * time.Second
	defaultQueryTimeout   = 10 * time.Second
	anonymousOwner        = "anonymous"
)

type fileService struct {
	deps    Dependencies
	log     zerolog.Logger
	maxSize int64
	allowed map[string]struct{}
	prefix  string
	expiry  time.Duration
	storeTO time.Duration
	queryTO time.Duration
	tracer  trace.Tracer
	newID   func() string
	now     func() time.Time
}

// NewFileService constructs a new FileService.
func NewFileService(deps Dependencies, limits Limits) FileService {
	log := deps.Logger.With().Str("component", "upload").Logger()
	if deps.Scrubber == nil {
		deps.Scrubber = scrubber.New(nil, nil, scrubber.Options{Logger: log})
	}
	if deps.Scanner == nil {
		deps.Scanner = scanner.NewClamAV("", nil, 0, log)
	}
	if deps.Hasher == nil {
		deps.Hasher, _ = hasher.New(string(hasher.SHA256))
	}
	if deps.Content == nil {
		deps.Content = contentstore.Disabled{}
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.NewSimulated()
	}
	if limits.MaxSize <= 0 {
		limits.MaxSize = config.DefaultMaxUploadSize
	}
	if limits.DownloadPrefix == "" {
		limits.DownloadPrefix = "/api/files"
	}
	if limits.PresignExpiry <= 0 {
		limits.PresignExpiry = 15 * time.Minute
	}
	if limits.StorageTimeout <= 0 {
		limits.StorageTimeout = defaultStorageTimeout
	}
	if limits.QueryTimeout <= 0 {
		limits.QueryTimeout = defaultQueryTimeout
	}

	allowed := make(map[string]struct{}, len(limits.AllowedTypes))
	for _, t := range limits.AllowedTypes {
		allowed[normalizeMIME(t)] = struct{}{}
	}

	return &fileService{
		deps:    deps,
		log:     log,
		maxSize: limits.MaxSize,
		allowed: allowed,
		prefix:  strings.TrimRight(limits.DownloadPrefix, "/"),
		expiry:  limits.PresignExpiry,
		storeTO: limits.StorageTimeout,
		queryTO: limits.QueryTimeout,
		tracer:  otel.Tracer("scrubapi/service"),
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

func (s *fileService) Process(ctx context.Context, req UploadRequest) (res *UploadResult, err error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "upload.process")
	defer span.End()

	defer func() {
		result := metrics.ResultProcessed
		if err != nil {
			result = metrics.ResultFailed
			if _, ok := AsValidation(err); ok {
				result = metrics.ResultRejected
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.deps.Metrics.ObserveUpload(result, s.now().Sub(start))
	}()

	job, err := s.validate(req)
	if err != nil {
		s.log.Info().Err(err).Str("owner", req.OwnerID).Msg("upload rejected")
		return nil, err
	}
	job.ID = s.newID()
	lc := s.log.With().Str("job_id", job.ID).Str("owner", job.OwnerID)
	if rid := logger.RequestIDFrom(ctx); rid != "" {
		lc = lc.Str("request_id", rid)
	}
	log := lc.Logger()
	span.SetAttributes(attribute.String("upload.job_id", job.ID), attribute.String("upload.mime_type", job.MimeType))

	arena := s.deps.Registry.Open(job.ID)
	defer func() {
		if cerr := arena.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("scratch cleanup failed")
		}
	}()

	outcome, err := s.clean(ctx, arena, job, log)
	if err != nil {
		log.Warn().Err(err).Msg("upload rejected")
		return nil, err
	}

	final := outcome.Final(job.Data)
	fp := s.deps.Hasher.Digest(final)
	key := objectKey(job.ID, job.Filename, job.MimeType)

	var (
		info      storage.ObjectInfo
		contentID *string
		storeCode string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pctx, cancel := context.WithTimeout(gctx, s.storeTO)
		defer cancel()
		var perr error
		info, perr = s.deps.Storage.Put(pctx, key, bytes.NewReader(final), storage.PutObjectOptions{
			Size:        int64(len(final)),
			ContentType: job.MimeType,
			Metadata: map[string]string{
				"job-id":       job.ID,
				"content-hash": fp.Qualified(),
				"cleaned":      fmt.Sprint(outcome.Cleaned),
			},
		})
		if perr != nil {
			return fmt.Errorf("%w: store artifact: %v", ErrPersistence, perr)
		}
		return nil
	})
	g.Go(func() error {
		contentID, storeCode = s.publish(gctx, final, log)
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Str("key", key).Msg("artifact write failed")
		return nil, err
	}

	receipt, ledgerCode := s.anchor(ctx, fp, deref(contentID), ledger.Descriptor{
		OriginalName: job.Filename,
		MimeType:     job.MimeType,
		Size:         job.DeclaredSize,
		Cleaned:      outcome.Cleaned,
	}, log)

	rec := &model.FileRecord{
		ID:               job.ID,
		OriginalName:     job.Filename,
		MimeType:         job.MimeType,
		Size:             job.DeclaredSize,
		StoragePath:      info.Key,
		Hash:             fp.String(),
		HashAlgorithm:    string(fp.Algorithm),
		ContentID:        contentID,
		OriginalMetadata: outcome.OriginalMetadata,
		CleanedMetadata:  outcome.CleanedMetadata(),
		OwnerID:          job.OwnerID,
		Status:           model.StatusProcessed,
		Cleaned:          outcome.Cleaned,
		ScrubStrategy:    outcome.Strategy(),
		Error:            degradedSummary(outcome, storeCode, ledgerCode),
		CreatedAt:        s.now().UTC(),
	}
	if rec.StoragePath == "" {
		rec.StoragePath = key
	}
	if receipt != nil {
		rec.LedgerTxID = &receipt.TransactionID
		rec.LedgerMode = string(receipt.Mode)
	}

	stored, err := s.create(ctx, rec)
	if err != nil {
		// The record is the last guaranteed step; without it the artifact is unreachable.
		if delErr := s.rollback(ctx, rec.StoragePath); delErr != nil {
			log.Error().Err(err).AnErr("rollback_error", delErr).Msg("record save failed, artifact rollback failed")
			return nil, fmt.Errorf("%w: save record: %v; rollback delete failed: %v", ErrPersistence, err, delErr)
		}
		log.Error().Err(err).Msg("record save failed, artifact rolled back")
		return nil, fmt.Errorf("%w: save record: %v", ErrPersistence, err)
	}

	log.Info().
		Bool("cleaned", stored.Cleaned).
		Str("strategy", stored.ScrubStrategy).
		Str("hash", stored.Hash).
		Bool("content_published", stored.ContentID != nil).
		Bool("anchored", receipt != nil).
		Dur("elapsed", s.now().Sub(start)).
		Msg("upload processed")

	return s.result(stored, outcome, receipt), nil
}

// validate applies the acceptance rules in order: presence, type, size limit,
// declared size.
func (s *fileService) validate(req UploadRequest) (model.UploadJob, error) {
	name := baseName(req.Filename)
	if name == "" && req.Data == nil {
		return model.UploadJob{}, newValidationError(CodeFileRequired, "a file is required")
	}
	mt := normalizeMIME(req.MimeType)
	if _, ok := s.allowed[mt]; !ok {
		return model.UploadJob{}, newValidationError(CodeTypeNotAllowed, "file type %q is not allowed", mt)
	}
	actual := int64(len(req.Data))
	if req.Size > s.maxSize || actual > s.maxSize {
		return model.UploadJob{}, newValidationError(CodeSizeExceeded, "file size %d exceeds the maximum of %d bytes", max(req.Size, actual), s.maxSize)
	}
	if req.Size != actual {
		return model.UploadJob{}, newValidationError(CodeSizeMismatch, "declared size %d does not match received size %d", req.Size, actual)
	}
	if name == "" {
		name = "upload"
	}
	owner := ownerOrAnonymous(req.OwnerID)
	return model.UploadJob{
		Filename:     name,
		MimeType:     mt,
		DeclaredSize: req.Size,
		Data:         req.Data,
		OwnerID:      owner,
	}, nil
}

// clean writes the input to scratch, runs the optional scan and the scrubber.
// Only an infected verdict is an error.
func (s *fileService) clean(ctx context.Context, arena *tempfile.Arena, job model.UploadJob, log zerolog.Logger) (scrubber.Outcome, error) {
	degraded := scrubber.Outcome{OriginalMetadata: model.Metadata{}}

	input, err := arena.Acquire("input" + extensionFor(job.Filename, job.MimeType))
	if err != nil {
		log.Error().Err(err).Msg("reserve scratch input failed, skipping scrub")
		return degraded, nil
	}
	if err := os.WriteFile(input.Path(), job.Data, 0o600); err != nil {
		log.Error().Err(err).Msg("write scratch input failed, skipping scrub")
		return degraded, nil
	}

	if s.deps.Scanner.Enabled() {
		verdict, err := s.deps.Scanner.Scan(ctx, input.Path())
		switch {
		case err != nil:
			log.Warn().Err(err).Str("stage", "scan").Msg("malware scan failed, continuing")
			s.deps.Metrics.ObserveOptionalFailure("scan", codeScanFailed)
		case verdict.Infected:
			return degraded, newValidationError(CodeMalwareDetected, "file rejected by malware scan (%s)", verdict.Signature)
		}
	}

	return s.deps.Scrubber.Scrub(ctx, arena, input.Path(), job.MimeType), nil
}

func (s *fileService) publish(ctx context.Context, data []byte, log zerolog.Logger) (*string, string) {
	ctx, span := s.tracer.Start(ctx, "contentstore.publish",
		trace.WithAttributes(attribute.String("contentstore.backend", s.deps.Content.Name())))
	defer span.End()

	id, err := s.deps.Content.Publish(ctx, data)
	if err != nil {
		code := codeStoreRejected
		if errors.Is(err, contentstore.ErrUnreachable) {
			code = codeStoreUnreachable
		}
		span.RecordError(err)
		log.Warn().Err(err).Str("stage", "content_store").Str("code", code).Msg("content store publish failed")
		s.deps.Metrics.ObserveOptionalFailure("content_store", code)
		return nil, code
	}
	if id == "" {
		return nil, ""
	}
	span.SetAttributes(attribute.String("contentstore.id", id))
	return &id, ""
}

func (s *fileService) anchor(ctx context.Context, fp hasher.Fingerprint, contentID string, d ledger.Descriptor, log zerolog.Logger) (*ledger.Receipt, string) {
	ctx, span := s.tracer.Start(ctx, "ledger.anchor",
		trace.WithAttributes(attribute.String("ledger.mode", string(s.deps.Ledger.Mode()))))
	defer span.End()

	receipt, err := s.deps.Ledger.Anchor(ctx, fp, contentID, d)
	if err != nil {
		code := string(ledger.CodeOf(err))
		if code == "" {
			code = string(ledger.CodeUnreachable)
		}
		span.RecordError(err)
		log.Warn().Err(err).Str("stage", "ledger").Str("code", code).Msg("ledger anchor failed")
		s.deps.Metrics.ObserveOptionalFailure("ledger", code)
		return nil, code
	}
	if receipt != nil {
		span.SetAttributes(attribute.String("ledger.tx_id", receipt.TransactionID))
	}
	return receipt, ""
}

func (s *fileService) result(rec *model.FileRecord, outcome scrubber.Outcome, receipt *ledger.Receipt) *UploadResult {
	md := rec.OriginalMetadata
	msg := "metadata could not be removed, original bytes kept"
	if rec.Cleaned {
		md = rec.CleanedMetadata
		msg = "metadata removed"
	}
	if md == nil {
		md = model.Metadata{}
	}
	sensitive := outcome.OriginalMetadata.Sensitive()
	if sensitive == nil {
		sensitive = []string{}
	}
	return &UploadResult{
		FileID:            rec.ID,
		OriginalName:      rec.OriginalName,
		MimeType:          rec.MimeType,
		Size:              rec.Size,
		Hash:              rec.Hash,
		HashAlgorithm:     rec.HashAlgorithm,
		ContentIdentifier: rec.ContentID,
		LedgerReceipt:     receipt,
		DownloadURL:       s.downloadURL(rec.ID),
		Metadata:          md,
		Cleaned:           rec.Cleaned,
		SensitiveFields:   sensitive,
		Strategy:          rec.ScrubStrategy,
		Message:           msg,
	}
}

func (s *fileService) downloadURL(id string) string {
	return s.prefix + "/" + id + "/download"
}

// List returns paginated files without exposing repository types.
func (s *fileService) List(ctx context.Context, owner string, limit, offset int) (*FileListResult, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	qctx, cancel := context.WithTimeout(ctx, s.queryTO)
	defer cancel()
	res, err := s.deps.Repo.ListByOwner(qctx, ownerOrAnonymous(owner), repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return &FileListResult{Items: res.Items, Total: res.Total}, nil
}

// Get returns a file by ID. Another owner's record is indistinguishable from
// a missing one.
func (s *fileService) Get(ctx context.Context, owner, id string) (*model.FileRecord, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	qctx, cancel := context.WithTimeout(ctx, s.queryTO)
	defer cancel()
	rec, err := s.deps.Repo.FindByID(qctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if rec.OwnerID != ownerOrAnonymous(owner) {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Lookup accepts a bare hex digest or an "<algorithm>:<hex>" form.
func (s *fileService) Lookup(ctx context.Context, owner, hash string) (*model.FileRecord, error) {
	if i := strings.IndexByte(hash, ':'); i >= 0 {
		hash = hash[i+1:]
	}
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash == "" {
		return nil, ErrIDRequired
	}
	qctx, cancel := context.WithTimeout(ctx, s.queryTO)
	defer cancel()
	rec, err := s.deps.Repo.FindByHash(qctx, ownerOrAnonymous(owner), hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Download puts no deadline on opening the artifact: the returned body is
// read after this returns and a cancelled context would cut the stream.
func (s *fileService) Download(ctx context.Context, owner, id string) (*Download, error) {
	rec, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	url, err := s.deps.Storage.PresignGet(ctx, rec.StoragePath, s.expiry)
	if err == nil {
		return &Download{Record: rec, URL: url}, nil
	}
	if !errors.Is(err, storage.ErrPresignUnsupported) {
		s.log.Warn().Err(err).Str("file_id", id).Msg("presign failed, streaming instead")
	}

	body, info, err := s.deps.Storage.Get(ctx, rec.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return &Download{Record: rec, Body: body, Info: info}, nil
}

// Delete removes a file from storage, then deletes its record.
func (s *fileService) Delete(ctx context.Context, owner, id string) error {
	rec, err := s.Get(ctx, owner, id)
	if err != nil {
		return err
	}
	// Storage goes first; a failed delete keeps the row so the artifact stays reachable.
	sctx, cancel := context.WithTimeout(ctx, s.storeTO)
	defer cancel()
	if err := s.deps.Storage.Delete(sctx, rec.StoragePath); err != nil {
		return fmt.Errorf("delete storage: %w", err)
	}
	qctx, qcancel := context.WithTimeout(ctx, s.queryTO)
	defer qcancel()
	return s.deps.Repo.Delete(qctx, id)
}

func (s *fileService) create(ctx context.Context, rec *model.FileRecord) (*model.FileRecord, error) {
	qctx, cancel := context.WithTimeout(ctx, s.queryTO)
	defer cancel()
	return s.deps.Repo.Create(qctx, rec)
}

// rollback deletes an orphaned artifact. It outlives a cancelled request but
// not the storage timeout.
func (s *fileService) rollback(ctx context.Context, key string) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTO)
	defer cancel()
	return s.deps.Storage.Delete(rctx, key)
}

func ownerOrAnonymous(owner string) string {
	if owner == "" {
		return anonymousOwner
	}
	return owner
}

func degradedSummary(outcome scrubber.Outcome, storeCode, ledgerCode string) string {
	var notes []string
	if !outcome.Cleaned {
		notes = append(notes, "scrub: no strategy succeeded")
	}
	if storeCode != "" {
		notes = append(notes, "content_store: "+storeCode)
	}
	if ledgerCode != "" {
		notes = append(notes, "ledger: "+ledgerCode)
	}
	return strings.Join(notes, "; ")
}

func normalizeMIME(v string) string {
	if mt, _, err := mime.ParseMediaType(v); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// baseName strips any client supplied directories, including Windows ones.
func baseName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	b := path.Base(name)
	if b == "." || b == "/" || b == ".." {
		return ""
	}
	return b
}

// extensionFor prefers the filename's extension and falls back to one
// registered for the MIME type. Tools detect formats by extension.
func extensionFor(filename, mimeType string) string {
	if ext := cleanExt(filepath.Ext(filename)); ext != "" {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return cleanExt(exts[0])
	}
	return ""
}

func cleanExt(ext string) string {
	ext = strings.ToLower(ext)
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func objectKey(id, filename, mimeType string) string {
	return "files/" + id + extensionFor(filename, mimeType)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
