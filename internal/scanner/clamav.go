// Package scanner runs an optional antivirus pass over uploads before any
// other processing.
package scanner

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"scrubapi/internal/scrubber"
)

// Verdict is the outcome of a scan.
type Verdict struct {
	Infected  bool
	Signature string
}

// Scanner inspects a file for malicious content.
type Scanner interface {
	Enabled() bool
	Scan(ctx context.Context, path string) (Verdict, error)
}

// ClamAV shells out to clamscan through a scrubber.Runner.
type ClamAV struct {
	binary  string
	runner  scrubber.Runner
	timeout time.Duration
	log     zerolog.Logger
}

// NewClamAV returns a scanner for binary. An empty binary yields a scanner that
// is disabled and reports every file clean.
func NewClamAV(binary string, runner scrubber.Runner, timeout time.Duration, log zerolog.Logger) *ClamAV {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &ClamAV{binary: binary, runner: runner, timeout: timeout, log: log}
}

func (c *ClamAV) Enabled() bool { return c != nil && c.binary != "" }

// Scan returns Infected for clamscan exit status 1. Any other failure is an
// error; callers treat the scan as advisory and continue.
func (c *ClamAV) Scan(ctx context.Context, path string) (Verdict, error) {
	if !c.Enabled() {
		return Verdict{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.runner.Run(ctx, scrubber.Invocation{
		Tool:  c.binary,
		Args:  []string{"--no-summary", scrubber.InputToken},
		Input: path,
	})
	if err == nil {
		return Verdict{}, nil
	}

	var exitErr *scrubber.ExitError
	if errors.As(err, &exitErr) && exitErr.Code == 1 {
		v := Verdict{Infected: true, Signature: signature(string(res.Stdout))}
		c.log.Warn().Str("signature", v.Signature).Msg("malware detected")
		return v, nil
	}
	return Verdict{}, err
}

// signature pulls the name out of a "<path>: <name> FOUND" line.
func signature(stdout string) string {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasSuffix(line, " FOUND") {
			continue
		}
		line = strings.TrimSuffix(line, " FOUND")
		if i := strings.LastIndex(line, ": "); i >= 0 {
			return line[i+2:]
		}
		return line
	}
	return "unknown"
}
