// Package scrubber removes privacy-sensitive metadata from uploaded files by
// driving external tools through an ordered fallback chain.
package scrubber

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"scrubapi/internal/model"
	"scrubapi/internal/tempfile"
)

// Attempt results reported to Options.Observe.
const (
	ResultSucceeded   = "succeeded"
	ResultFailed      = "failed"
	ResultUnavailable = "unavailable"
)

// Acquirer hands out job-scoped scratch paths. *tempfile.Arena satisfies it.
type Acquirer interface {
	Acquire(name string) (*tempfile.Handle, error)
}

// Attempt records what happened with one strategy.
type Attempt struct {
	Strategy  string
	Succeeded bool
	// Buffer holds the cleaned bytes of a successful attempt.
	Buffer   []byte
	Metadata model.Metadata
	Err      error
	Duration time.Duration
}

// Outcome is the result of running the whole chain.
type Outcome struct {
	// Accepted points at the winning attempt, nil when nothing succeeded.
	Accepted         *Attempt
	Attempts         []Attempt
	OriginalMetadata model.Metadata
	Cleaned          bool
}

// Final returns the cleaned bytes, or original when no strategy succeeded.
func (o Outcome) Final(original []byte) []byte {
	if o.Cleaned && o.Accepted != nil {
		return o.Accepted.Buffer
	}
	return original
}

// Strategy returns the winning strategy name, or "" when nothing succeeded.
func (o Outcome) Strategy() string {
	if o.Accepted == nil {
		return ""
	}
	return o.Accepted.Strategy
}

// CleanedMetadata returns the post-clean metadata report, never nil.
func (o Outcome) CleanedMetadata() model.Metadata {
	if o.Accepted == nil || o.Accepted.Metadata == nil {
		return model.Metadata{}
	}
	return o.Accepted.Metadata
}

type Options struct {
	// Timeout bounds each strategy's Clean call.
	Timeout time.Duration
	Logger  zerolog.Logger
	// Observe is called once per attempt with one of the Result* constants.
	Observe func(strategy, result string)
}

// Scrubber runs strategies in order and keeps the first valid output.
type Scrubber struct {
	strategies []Strategy
	extractor  Extractor
	timeout    time.Duration
	log        zerolog.Logger
	observe    func(strategy, result string)
	tracer     trace.Tracer
}

func New(strategies []Strategy, extractor Extractor, opts Options) *Scrubber {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Observe == nil {
		opts.Observe = func(string, string) {}
	}
	if extractor == nil {
		extractor = ExtractorChain{}
	}
	return &Scrubber{
		strategies: strategies,
		extractor:  extractor,
		timeout:    opts.Timeout,
		log:        opts.Logger,
		observe:    opts.Observe,
		tracer:     otel.Tracer("scrubapi/scrubber"),
	}
}

// Strategies returns the configured strategy names in chain order.
func (s *Scrubber) Strategies() []string {
	names := make([]string, len(s.strategies))
	for i, st := range s.strategies {
		names[i] = st.Name()
	}
	return names
}

// Scrub cleans the file at path. It never fails: when every strategy is
// unavailable or fails, the Outcome reports Cleaned=false and the caller keeps
// the original bytes. The file at path is never modified.
func (s *Scrubber) Scrub(ctx context.Context, arena Acquirer, path, mimeType string) Outcome {
	ctx, span := s.tracer.Start(ctx, "scrub.chain")
	defer span.End()

	out := Outcome{OriginalMetadata: s.snapshot(ctx, path, mimeType)}

	inputInfo, err := os.Stat(path)
	if err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("scrub input not readable")
		return out
	}

	for _, st := range s.strategies {
		attempt := s.attempt(ctx, st, arena, path, inputInfo.Size())
		out.Attempts = append(out.Attempts, attempt)
		if attempt.Succeeded {
			out.Accepted = &out.Attempts[len(out.Attempts)-1]
			out.Cleaned = true
			break
		}
	}

	span.SetAttributes(
		attribute.Bool("scrub.cleaned", out.Cleaned),
		attribute.String("scrub.strategy", out.Strategy()),
		attribute.Int("scrub.attempts", len(out.Attempts)),
	)
	if !out.Cleaned {
		s.log.Warn().Int("attempts", len(out.Attempts)).Msg("no scrub strategy succeeded, keeping original bytes")
	}
	return out
}

func (s *Scrubber) snapshot(ctx context.Context, path, mimeType string) model.Metadata {
	md, err := s.extractor.Extract(ctx, path, mimeType)
	if err != nil {
		s.log.Debug().Err(err).Msg("metadata snapshot unavailable")
		return model.Metadata{}
	}
	if md == nil {
		return model.Metadata{}
	}
	return md
}

func (s *Scrubber) attempt(ctx context.Context, st Strategy, arena Acquirer, path string, inputSize int64) Attempt {
	start := time.Now()
	a := Attempt{Strategy: st.Name()}
	log := s.log.With().Str("strategy", st.Name()).Logger()

	finish := func(result string) Attempt {
		a.Duration = time.Since(start)
		s.observe(a.Strategy, result)
		ev := log.Info()
		if a.Err != nil {
			ev = log.Warn().Err(a.Err)
		}
		ev.Str("result", result).Dur("duration", a.Duration).Msg("scrub attempt")
		return a
	}

	if !st.Available(ctx) {
		a.Err = fmt.Errorf("%w: %s", ErrToolUnavailable, st.Name())
		return finish(ResultUnavailable)
	}

	handle, err := arena.Acquire(st.Name() + "-clean" + filepath.Ext(path))
	if err != nil {
		a.Err = fmt.Errorf("%w: reserve output: %v", ErrExecutionFailed, err)
		return finish(ResultFailed)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err = st.Clean(runCtx, path, handle.Path())
	cancel()
	if err != nil {
		a.Err = fmt.Errorf("%w: %s: %v", ErrExecutionFailed, st.Name(), err)
		_ = handle.Release()
		return finish(ResultFailed)
	}

	buf, err := os.ReadFile(handle.Path())
	if err != nil {
		a.Err = fmt.Errorf("%w: read output: %v", ErrExecutionFailed, err)
		_ = handle.Release()
		return finish(ResultFailed)
	}
	if len(buf) == 0 && inputSize > 0 {
		a.Err = fmt.Errorf("%w: %s produced an empty file", ErrExecutionFailed, st.Name())
		_ = handle.Release()
		return finish(ResultFailed)
	}

	a.Succeeded = true
	a.Buffer = buf

	reportCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	md, err := st.Report(reportCtx, handle.Path())
	if err != nil {
		log.Debug().Err(err).Msg("post-clean metadata report failed")
		md = model.Metadata{}
	}
	a.Metadata = md
	return finish(ResultSucceeded)
}
