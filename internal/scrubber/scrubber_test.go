package scrubber

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrubapi/internal/model"
	"scrubapi/internal/tempfile"
)

// fakeStrategy is a scripted Strategy.
type fakeStrategy struct {
	name      string
	available bool
	clean     func(ctx context.Context, in, out string) error
	report    model.Metadata
	reportErr error

	mu    sync.Mutex
	calls int
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Available(context.Context) bool { return f.available }

func (f *fakeStrategy) Clean(ctx context.Context, in, out string) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.clean == nil {
		return nil
	}
	return f.clean(ctx, in, out)
}

func (f *fakeStrategy) Report(context.Context, string) (model.Metadata, error) {
	return f.report, f.reportErr
}

func (f *fakeStrategy) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func writeOutput(data string) func(context.Context, string, string) error {
	return func(_ context.Context, _, out string) error {
		return os.WriteFile(out, []byte(data), 0o600)
	}
}

func failWith(err error) func(context.Context, string, string) error {
	return func(context.Context, string, string) error { return err }
}

type fakeExtractor struct {
	md  model.Metadata
	err error
}

func (f fakeExtractor) Extract(context.Context, string, string) (model.Metadata, error) {
	return f.md, f.err
}

func setupJob(t *testing.T, content []byte) (*tempfile.Registry, *tempfile.Arena, string) {
	t.Helper()
	reg, err := tempfile.NewRegistry(filepath.Join(t.TempDir(), "scratch"))
	require.NoError(t, err)
	arena := reg.Open("job-1")
	h, err := arena.Acquire("input.jpg")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(h.Path(), content, 0o600))
	return reg, arena, h.Path()
}

func TestScrubFallbackOrdering(t *testing.T) {
	original := []byte("original-bytes-with-exif")
	_, arena, path := setupJob(t, original)
	defer arena.Close()

	first := &fakeStrategy{name: "first", available: false}
	second := &fakeStrategy{name: "second", available: true, clean: failWith(&ExitError{Tool: "second", Code: 2})}
	third := &fakeStrategy{name: "third", available: true, clean: writeOutput("clean"), report: model.Metadata{"MIMEType": model.String("image/jpeg")}}
	fourth := &fakeStrategy{name: "fourth", available: true, clean: writeOutput("never")}

	var observed []string
	s := New([]Strategy{first, second, third, fourth}, fakeExtractor{md: model.Metadata{"GPSLatitude": model.Number(52.1)}}, Options{
		Logger:  zerolog.Nop(),
		Observe: func(name, result string) { observed = append(observed, name+"="+result) },
	})

	out := s.Scrub(context.Background(), arena, path, "image/jpeg")

	require.True(t, out.Cleaned)
	require.NotNil(t, out.Accepted)
	assert.Equal(t, "third", out.Strategy())
	assert.Equal(t, []byte("clean"), out.Final(original))
	assert.Equal(t, "image/jpeg", out.CleanedMetadata()["MIMEType"].Text())
	assert.Equal(t, []string{"GPSLatitude"}, out.OriginalMetadata.Keys())

	require.Len(t, out.Attempts, 3)
	assert.ErrorIs(t, out.Attempts[0].Err, ErrToolUnavailable)
	assert.ErrorIs(t, out.Attempts[1].Err, ErrExecutionFailed)
	assert.NoError(t, out.Attempts[2].Err)
	assert.Equal(t, 0, first.callCount())
	assert.Equal(t, 0, fourth.callCount())
	assert.Equal(t, []string{"first=unavailable", "second=failed", "third=succeeded"}, observed)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

func TestScrubTotalFailureKeepsOriginal(t *testing.T) {
	original := bytes.Repeat([]byte{0xFF, 0xD8, 0x00, 0x42}, 1024)

	tests := []struct {
		name       string
		strategies func() []Strategy
	}{
		{
			name:       "no strategies configured",
			strategies: func() []Strategy { return nil },
		},
		{
			name: "all unavailable",
			strategies: func() []Strategy {
				return []Strategy{
					&fakeStrategy{name: "mat2"},
					&fakeStrategy{name: "exiftool"},
				}
			},
		},
		{
			name: "all fail in different ways",
			strategies: func() []Strategy {
				return []Strategy{
					&fakeStrategy{name: "exit", available: true, clean: failWith(errBoom)},
					&fakeStrategy{name: "no-output", available: true},
					&fakeStrategy{name: "empty-output", available: true, clean: writeOutput("")},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, arena, path := setupJob(t, original)
			defer arena.Close()

			s := New(tt.strategies(), fakeExtractor{err: errors.New("no extractor")}, Options{Logger: zerolog.Nop()})
			out := s.Scrub(context.Background(), arena, path, "image/jpeg")

			assert.False(t, out.Cleaned)
			assert.Nil(t, out.Accepted)
			assert.Empty(t, out.Strategy())
			assert.Equal(t, original, out.Final(original))
			assert.NotNil(t, out.OriginalMetadata)
			assert.Empty(t, out.OriginalMetadata)
			assert.Empty(t, out.CleanedMetadata())
			for _, a := range out.Attempts {
				assert.False(t, a.Succeeded)
				assert.Error(t, a.Err)
			}
		})
	}
}

func TestScrubEmptyInputAcceptsEmptyOutput(t *testing.T) {
	_, arena, path := setupJob(t, nil)
	defer arena.Close()

	s := New([]Strategy{&fakeStrategy{name: "exiftool", available: true, clean: writeOutput("")}}, nil, Options{Logger: zerolog.Nop()})
	out := s.Scrub(context.Background(), arena, path, "text/plain")

	assert.True(t, out.Cleaned)
	assert.Empty(t, out.Final([]byte{}))
}

func TestScrubTimeoutFallsThrough(t *testing.T) {
	_, arena, path := setupJob(t, []byte("data"))
	defer arena.Close()

	hanging := &fakeStrategy{name: "hanging", available: true, clean: func(ctx context.Context, _, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	backup := &fakeStrategy{name: "backup", available: true, clean: writeOutput("ok")}

	s := New([]Strategy{hanging, backup}, nil, Options{Timeout: 50 * time.Millisecond, Logger: zerolog.Nop()})
	start := time.Now()
	out := s.Scrub(context.Background(), arena, path, "image/png")

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, out.Cleaned)
	assert.Equal(t, "backup", out.Strategy())
	assert.ErrorIs(t, out.Attempts[0].Err, ErrExecutionFailed)
	assert.Contains(t, out.Attempts[0].Err.Error(), context.DeadlineExceeded.Error())
}

func TestScrubReportFailureStillSucceeds(t *testing.T) {
	_, arena, path := setupJob(t, []byte("data"))
	defer arena.Close()

	st := &fakeStrategy{name: "mat2", available: true, clean: writeOutput("ok"), reportErr: errBoom}
	out := New([]Strategy{st}, nil, Options{Logger: zerolog.Nop()}).Scrub(context.Background(), arena, path, "image/png")

	assert.True(t, out.Cleaned)
	assert.NotNil(t, out.CleanedMetadata())
	assert.Empty(t, out.CleanedMetadata())
}

func TestScrubFailedOutputsAreReleasedEarly(t *testing.T) {
	reg, arena, path := setupJob(t, []byte("data"))
	defer arena.Close()

	failing := &fakeStrategy{name: "partial", available: true, clean: func(_ context.Context, _, out string) error {
		_ = os.WriteFile(out, []byte("half"), 0o600)
		return errBoom
	}}
	New([]Strategy{failing}, nil, Options{Logger: zerolog.Nop()}).Scrub(context.Background(), arena, path, "image/png")

	assert.Equal(t, []string{path}, reg.Paths("job-1"))
}

func TestScrubberStrategies(t *testing.T) {
	s := New([]Strategy{&fakeStrategy{name: "mat2"}, &fakeStrategy{name: "exiftool"}}, nil, Options{})
	assert.Equal(t, []string{"mat2", "exiftool"}, s.Strategies())
}
