package scrubber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"scrubapi/internal/model"
)

// Extractor reads the metadata of a file before it is cleaned.
type Extractor interface {
	Extract(ctx context.Context, path, mimeType string) (model.Metadata, error)
}

var errNotApplicable = errors.New("extractor does not handle this type")

// ExtractorChain tries each extractor in order and returns the first result.
type ExtractorChain []Extractor

func (c ExtractorChain) Extract(ctx context.Context, path, mimeType string) (model.Metadata, error) {
	var errs []error
	for _, e := range c {
		md, err := e.Extract(ctx, path, mimeType)
		if err == nil {
			return md, nil
		}
		if !errors.Is(err, errNotApplicable) {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return model.Metadata{}, nil
	}
	return model.Metadata{}, errors.Join(errs...)
}

// ExifToolExtractor reads tags with `exiftool -json`.
type ExifToolExtractor struct {
	runner Runner
	probe  *Probe
}

func NewExifToolExtractor(runner Runner, probe *Probe) *ExifToolExtractor {
	return &ExifToolExtractor{runner: runner, probe: probe}
}

func (e *ExifToolExtractor) Extract(ctx context.Context, path, _ string) (model.Metadata, error) {
	if !e.probe.Available(ctx, ExifToolTool) {
		return nil, fmt.Errorf("%w: exiftool", ErrToolUnavailable)
	}
	res, err := e.runner.Run(ctx, exifToolReadInvocation(path))
	if err != nil {
		return nil, err
	}
	return parseExifToolJSON(res.Stdout)
}

func exifToolReadInvocation(path string) Invocation {
	return Invocation{Tool: ExifToolTool.Name, Args: []string{"-json", "-n", InputToken}, Input: path}
}

// Tags describing our own scratch copy rather than the uploaded document.
var scratchTags = map[string]bool{
	"SourceFile":          true,
	"Directory":           true,
	"FileName":            true,
	"FilePermissions":     true,
	"FileAccessDate":      true,
	"FileModifyDate":      true,
	"FileInodeChangeDate": true,
	"ExifToolVersion":     true,
}

func parseExifToolJSON(stdout []byte) (model.Metadata, error) {
	var docs []map[string]json.RawMessage
	if err := json.Unmarshal(stdout, &docs); err != nil {
		return nil, fmt.Errorf("parse exiftool json: %w", err)
	}
	md := model.Metadata{}
	if len(docs) == 0 {
		return md, nil
	}
	for key, raw := range docs[0] {
		if scratchTags[key] {
			continue
		}
		var v model.Value
		if err := v.UnmarshalJSON(raw); err != nil {
			continue
		}
		md[key] = v
	}
	return md, nil
}

// PDFExtractor reads the document information dictionary of a PDF without any
// external tool.
type PDFExtractor struct{}

func (PDFExtractor) Extract(_ context.Context, path, mimeType string) (md model.Metadata, err error) {
	if mimeType != "application/pdf" {
		return nil, errNotApplicable
	}
	defer func() {
		if r := recover(); r != nil {
			md, err = nil, fmt.Errorf("parse pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	md = model.Metadata{}
	info := r.Trailer().Key("Info")
	for _, key := range info.Keys() {
		v := info.Key(key)
		switch v.Kind() {
		case pdf.String:
			md[key] = model.String(strings.TrimSpace(v.Text()))
		case pdf.Name:
			md[key] = model.String(v.Name())
		case pdf.Integer:
			md[key] = model.Number(float64(v.Int64()))
		case pdf.Real:
			md[key] = model.Number(v.Float64())
		case pdf.Bool:
			md[key] = model.Blob([]byte(fmt.Sprintf("%t", v.Bool())))
		}
	}
	md["PageCount"] = model.Number(float64(r.NumPage()))
	return md, nil
}
