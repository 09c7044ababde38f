package scanner

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrubapi/internal/scrubber"
)

type stubRunner struct {
	res scrubber.Result
	err error
	inv scrubber.Invocation
}

func (s *stubRunner) Name() string { return "stub" }

func (s *stubRunner) LookPath(context.Context, string) error { return nil }

func (s *stubRunner) Run(_ context.Context, inv scrubber.Invocation) (scrubber.Result, error) {
	s.inv = inv
	return s.res, s.err
}

func TestClamAVScan(t *testing.T) {
	tests := []struct {
		name    string
		runner  *stubRunner
		want    Verdict
		wantErr bool
	}{
		{
			name:   "clean",
			runner: &stubRunner{res: scrubber.Result{Stdout: []byte("/tmp/a.pdf: OK\n")}},
			want:   Verdict{},
		},
		{
			name: "infected",
			runner: &stubRunner{
				res: scrubber.Result{Stdout: []byte("/tmp/a.pdf: Eicar-Test-Signature FOUND\n")},
				err: &scrubber.ExitError{Tool: "clamscan", Code: 1},
			},
			want: Verdict{Infected: true, Signature: "Eicar-Test-Signature"},
		},
		{
			name:    "scanner error",
			runner:  &stubRunner{err: &scrubber.ExitError{Tool: "clamscan", Code: 2, Stderr: "database missing"}},
			wantErr: true,
		},
		{
			name:    "runner failure",
			runner:  &stubRunner{err: errors.New("exec failed")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClamAV("/usr/bin/clamscan", tt.runner, 0, zerolog.Nop())
			got, err := c.Scan(context.Background(), "/tmp/a.pdf")
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, got.Infected)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "/usr/bin/clamscan", tt.runner.inv.Tool)
			assert.Equal(t, []string{"--no-summary", scrubber.InputToken}, tt.runner.inv.Args)
			assert.Equal(t, "/tmp/a.pdf", tt.runner.inv.Input)
		})
	}
}

func TestClamAVDisabled(t *testing.T) {
	r := &stubRunner{err: errors.New("must not run")}
	c := NewClamAV("", r, 0, zerolog.Nop())

	assert.False(t, c.Enabled())
	v, err := c.Scan(context.Background(), "/tmp/a.pdf")
	require.NoError(t, err)
	assert.False(t, v.Infected)
	assert.Empty(t, r.inv.Tool)
}

func TestSignatureFallback(t *testing.T) {
	assert.Equal(t, "unknown", signature("garbage"))
}
