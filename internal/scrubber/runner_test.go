package scrubber

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrubapi/internal/config"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestLocalRunnerRun(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	out := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(in, []byte("payload"), 0o600))

	tests := []struct {
		name  string
		inv   Invocation
		ctx   func() (context.Context, context.CancelFunc)
		check func(t *testing.T, res Result, err error)
	}{
		{
			name: "substitutes tokens and captures stdout",
			inv: Invocation{
				Tool:   "sh",
				Args:   []string{"-c", `cat "$0" > "$1"; echo done`, InputToken, OutputToken},
				Input:  in,
				Output: out,
			},
			check: func(t *testing.T, res Result, err error) {
				require.NoError(t, err)
				assert.Equal(t, "done\n", string(res.Stdout))
				got, err := os.ReadFile(out)
				require.NoError(t, err)
				assert.Equal(t, "payload", string(got))
			},
		},
		{
			name: "non-zero exit becomes ExitError",
			inv:  Invocation{Tool: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}},
			check: func(t *testing.T, res Result, err error) {
				var exitErr *ExitError
				require.ErrorAs(t, err, &exitErr)
				assert.Equal(t, 3, exitErr.Code)
				assert.Equal(t, "boom", exitErr.Stderr)
				assert.Contains(t, exitErr.Error(), "exit 3: boom")
				assert.Equal(t, "boom\n", string(res.Stderr))
			},
		},
		{
			name: "missing tool",
			inv:  Invocation{Tool: "definitely-not-a-real-tool-xyz"},
			check: func(t *testing.T, _ Result, err error) {
				assert.ErrorIs(t, err, ErrToolUnavailable)
			},
		},
		{
			name: "deadline kills the process",
			inv:  Invocation{Tool: "sh", Args: []string{"-c", "sleep 5"}},
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 100*time.Millisecond)
			},
			check: func(t *testing.T, _ Result, err error) {
				assert.ErrorIs(t, err, context.DeadlineExceeded)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.Background(), context.CancelFunc(func() {})
			if tt.ctx != nil {
				ctx, cancel = tt.ctx()
			}
			defer cancel()

			start := time.Now()
			res, err := NewLocalRunner().Run(ctx, tt.inv)
			tt.check(t, res, err)
			assert.Less(t, time.Since(start), 4*time.Second)
		})
	}
}

func TestLocalRunnerSeedOutputLeavesInputAlone(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	out := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(in, []byte("original"), 0o600))

	_, err := NewLocalRunner().Run(context.Background(), Invocation{
		Tool:       "sh",
		Args:       []string{"-c", `printf ' edited' >> "$0"`, OutputToken},
		Input:      in,
		Output:     out,
		SeedOutput: true,
	})
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "original edited", string(got))

	orig, err := os.ReadFile(in)
	require.NoError(t, err)
	assert.Equal(t, "original", string(orig))
}

func TestLocalRunnerLookPath(t *testing.T) {
	r := &LocalRunner{lookPath: func(name string) (string, error) {
		if name == "mat2" {
			return "/usr/bin/mat2", nil
		}
		return "", exec.ErrNotFound
	}}

	assert.NoError(t, r.LookPath(context.Background(), "mat2"))
	assert.ErrorIs(t, r.LookPath(context.Background(), "exiftool"), ErrToolUnavailable)
}

func TestNewRunner(t *testing.T) {
	r, err := NewRunner(config.ScrubConfig{Runner: ""})
	require.NoError(t, err)
	assert.Equal(t, "local", r.Name())

	_, err = NewRunner(config.ScrubConfig{Runner: "docker"})
	assert.Error(t, err)

	_, err = NewRunner(config.ScrubConfig{Runner: "ssh"})
	assert.Error(t, err)
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"exiftool", "exiftool"},
		{"-all=", "-all="},
		{"/tmp/tmp.abc/in.jpg", "/tmp/tmp.abc/in.jpg"},
		{"my file.jpg", "'my file.jpg'"},
		{"it's", `'it'\''s'`},
		{"$(rm -rf /)", "'$(rm -rf /)'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shellQuote(tt.in), tt.in)
	}
}

func TestNewSSHRunnerValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.SSHConfig
	}{
		{"missing addr", config.SSHConfig{User: "u", KeyFile: "k", KnownHostsFile: "h"}},
		{"missing user", config.SSHConfig{Addr: "a", KeyFile: "k", KnownHostsFile: "h"}},
		{"missing key", config.SSHConfig{Addr: "a", User: "u", KnownHostsFile: "h"}},
		{"missing known hosts", config.SSHConfig{Addr: "a", User: "u", KeyFile: "k"}},
		{"unreadable key", config.SSHConfig{Addr: "a", User: "u", KeyFile: "/nonexistent/key", KnownHostsFile: "h"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSSHRunner(tt.cfg)
			assert.Error(t, err)
		})
	}
}

// fakeRunner records invocations and answers from canned tables.
type fakeRunner struct {
	mu       sync.Mutex
	missing  map[string]bool
	failing  map[string]error
	stdout   map[string][]byte
	lookups  int
	runs     []Invocation
	runDelay time.Duration
}

func (f *fakeRunner) Name() string { return "fake" }

func (f *fakeRunner) LookPath(_ context.Context, tool string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.missing[tool] {
		return ErrToolUnavailable
	}
	return nil
}

func (f *fakeRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	if f.runDelay > 0 {
		select {
		case <-time.After(f.runDelay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, inv)
	if err := f.failing[inv.Tool]; err != nil {
		return Result{}, err
	}
	return Result{Stdout: f.stdout[inv.Tool]}, nil
}

func (f *fakeRunner) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

var errBoom = errors.New("boom")
