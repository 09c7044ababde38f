package scrubber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"scrubapi/internal/config"
)

const (
	sshDialTimeout    = 10 * time.Second
	sshCleanupTimeout = 5 * time.Second
)

// SSHRunner executes tools on a remote host over SSH. Each invocation gets its
// own remote scratch directory; input is streamed up over stdin and output is
// streamed back with cat, so the remote side needs nothing beyond a POSIX shell
// and the tools themselves.
type SSHRunner struct {
	addr   string
	config *ssh.ClientConfig
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSSHRunner validates cfg and loads the client key and known_hosts file.
func NewSSHRunner(cfg config.SSHConfig) (*SSHRunner, error) {
	if cfg.Addr == "" {
		return nil, errors.New("scrubber: SCRUB_SSH_ADDR is required for the ssh runner")
	}
	if cfg.User == "" {
		return nil, errors.New("scrubber: SCRUB_SSH_USER is required for the ssh runner")
	}
	if cfg.KeyFile == "" {
		return nil, errors.New("scrubber: SCRUB_SSH_KEY_FILE is required for the ssh runner")
	}
	if cfg.KnownHostsFile == "" {
		return nil, errors.New("scrubber: SCRUB_SSH_KNOWN_HOSTS is required for the ssh runner")
	}

	key, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("scrubber: read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("scrubber: parse ssh key: %w", err)
	}
	hostKeys, err := knownhosts.New(cfg.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("scrubber: load known hosts: %w", err)
	}

	addr := cfg.Addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	dialer := &net.Dialer{Timeout: sshDialTimeout}
	return &SSHRunner{
		addr: addr,
		config: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeys,
			Timeout:         sshDialTimeout,
		},
		dial: dialer.DialContext,
	}, nil
}

func (r *SSHRunner) Name() string { return "ssh" }

func (r *SSHRunner) LookPath(ctx context.Context, tool string) error {
	client, err := r.connect(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrToolUnavailable, tool, err)
	}
	defer client.Close()

	var out bytes.Buffer
	if _, err := r.exec(ctx, client, "command -v "+shellQuote(tool), nil, &out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrToolUnavailable, tool, err)
	}
	return nil
}

func (r *SSHRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	client, err := r.connect(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrToolUnavailable, inv.Tool, err)
	}
	defer client.Close()

	var dirOut bytes.Buffer
	if _, err := r.exec(ctx, client, "mktemp -d", nil, &dirOut); err != nil {
		return Result{}, fmt.Errorf("remote mktemp: %w", err)
	}
	dir := strings.TrimSpace(dirOut.String())
	if dir == "" || !strings.HasPrefix(dir, "/") {
		return Result{}, fmt.Errorf("remote mktemp returned %q", dir)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), sshCleanupTimeout)
		defer cancel()
		_, _ = r.exec(cleanupCtx, client, "rm -rf "+shellQuote(dir), nil, io.Discard)
	}()

	remoteIn := path.Join(dir, "in"+filepath.Ext(inv.Input))
	remoteOut := path.Join(dir, "out"+filepath.Ext(inv.Output))

	if inv.Input != "" {
		target := remoteIn
		if inv.SeedOutput {
			target = remoteOut
		}
		if err := r.upload(ctx, client, inv.Input, target); err != nil {
			return Result{}, err
		}
	}

	args := expandArgs(inv.Args, remoteIn, remoteOut)
	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, shellQuote(inv.Tool))
	for _, a := range args {
		quoted = append(quoted, shellQuote(a))
	}

	var stdout bytes.Buffer
	stderr, err := r.exec(ctx, client, strings.Join(quoted, " "), nil, &stdout)
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr}
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			exitErr.Tool = inv.Tool
			exitErr.Args = args
		}
		return res, err
	}

	if inv.Output != "" {
		if err := r.download(ctx, client, remoteOut, inv.Output); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (r *SSHRunner) connect(ctx context.Context) (*ssh.Client, error) {
	conn, err := r.dial(ctx, "tcp", r.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", r.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, r.addr, r.config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}
	// The deadline only bounds the handshake; sessions are bounded by ctx and
	// the cleanup session must still work after ctx expires.
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// exec runs one shell command in a fresh session and returns its stderr.
// Cancelling ctx kills the session.
func (r *SSHRunner) exec(ctx context.Context, client *ssh.Client, cmd string, stdin io.Reader, stdout io.Writer) ([]byte, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stdin = stdin
	session.Stdout = stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		// Run returns once the stream copiers stop; stderr is not safe to read before.
		<-done
		return stderr.Bytes(), ctx.Err()
	case err := <-done:
		if err == nil {
			return stderr.Bytes(), nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return stderr.Bytes(), &ExitError{
				Tool:   cmd,
				Code:   exitErr.ExitStatus(),
				Stderr: strings.TrimSpace(stderr.String()),
				Err:    err,
			}
		}
		return stderr.Bytes(), fmt.Errorf("ssh run: %w", err)
	}
}

func (r *SSHRunner) upload(ctx context.Context, client *ssh.Client, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close()
	if _, err := r.exec(ctx, client, "cat > "+shellQuote(remote), f, io.Discard); err != nil {
		return fmt.Errorf("upload to remote: %w", err)
	}
	return nil
}

func (r *SSHRunner) download(ctx context.Context, client *ssh.Client, remote, local string) error {
	f, err := os.OpenFile(local, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", local, err)
	}
	if _, err := r.exec(ctx, client, "cat "+shellQuote(remote), nil, f); err != nil {
		f.Close()
		os.Remove(local)
		return fmt.Errorf("download from remote: %w", err)
	}
	return f.Close()
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || strings.ContainsRune("-_./=:,+@", c)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
