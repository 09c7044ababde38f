package scrubber

import (
	"bufio"
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Tool identifies an external binary and the arguments that make it print its
// version without side effects.
type Tool struct {
	Name        string
	VersionArgs []string
}

// ToolStatus is the cached result of probing one tool.
type ToolStatus struct {
	Available bool      `json:"available"`
	Version   string    `json:"version,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// ProbeOptions tunes a Probe. Zero values select defaults.
type ProbeOptions struct {
	Timeout     time.Duration
	NegativeTTL time.Duration
	Logger      zerolog.Logger
}

// Probe answers "is this tool usable?" at most once per tool for positive
// answers. Negative answers are retried after NegativeTTL so a tool installed
// while the service runs is eventually picked up. Concurrent checks of the
// same tool share a single probe.
type Probe struct {
	runner      Runner
	timeout     time.Duration
	negativeTTL time.Duration
	log         zerolog.Logger
	now         func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]ToolStatus
}

func NewProbe(runner Runner, opts ProbeOptions) *Probe {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = time.Minute
	}
	return &Probe{
		runner:      runner,
		timeout:     opts.Timeout,
		negativeTTL: opts.NegativeTTL,
		log:         opts.Logger,
		now:         time.Now,
		cache:       make(map[string]ToolStatus),
	}
}

// Available reports whether tool can be executed. It never returns an error;
// any failure counts as unavailable.
func (p *Probe) Available(ctx context.Context, tool Tool) bool {
	return p.Check(ctx, tool).Available
}

// Check returns the cached status of tool, probing it when needed. The probe
// itself is detached from ctx so that one caller giving up cannot cache a
// failure for everyone else; that caller just gets an uncached unavailable
// status.
func (p *Probe) Check(ctx context.Context, tool Tool) ToolStatus {
	if st, ok := p.cached(tool.Name); ok {
		return st
	}
	ch := p.group.DoChan(tool.Name, func() (any, error) {
		if st, ok := p.cached(tool.Name); ok {
			return st, nil
		}
		st := p.probe(context.WithoutCancel(ctx), tool)
		p.mu.Lock()
		p.cache[tool.Name] = st
		p.mu.Unlock()
		return st, nil
	})
	select {
	case res := <-ch:
		return res.Val.(ToolStatus)
	case <-ctx.Done():
		return ToolStatus{Error: ctx.Err().Error(), CheckedAt: p.now()}
	}
}

// Snapshot returns a copy of every cached status keyed by tool name.
func (p *Probe) Snapshot() map[string]ToolStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]ToolStatus, len(p.cache))
	for k, v := range p.cache {
		out[k] = v
	}
	return out
}

// Tools returns the names of probed tools in sorted order.
func (p *Probe) Tools() []string {
	snap := p.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Probe) cached(name string) (ToolStatus, bool) {
	p.mu.RLock()
	st, ok := p.cache[name]
	p.mu.RUnlock()
	if !ok {
		return ToolStatus{}, false
	}
	if st.Available || p.now().Sub(st.CheckedAt) < p.negativeTTL {
		return st, true
	}
	return ToolStatus{}, false
}

func (p *Probe) probe(ctx context.Context, tool Tool) ToolStatus {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	st := ToolStatus{CheckedAt: p.now()}
	if err := p.runner.LookPath(ctx, tool.Name); err != nil {
		st.Error = err.Error()
		p.log.Warn().Str("tool", tool.Name).Str("runner", p.runner.Name()).Err(err).Msg("scrub tool not found")
		return st
	}
	res, err := p.runner.Run(ctx, Invocation{Tool: tool.Name, Args: tool.VersionArgs})
	if err != nil {
		st.Error = err.Error()
		p.log.Warn().Str("tool", tool.Name).Str("runner", p.runner.Name()).Err(err).Msg("scrub tool probe failed")
		return st
	}

	st.Available = true
	st.Version = firstLine(res.Stdout)
	p.log.Info().Str("tool", tool.Name).Str("version", st.Version).Str("runner", p.runner.Name()).Msg("scrub tool available")
	return st
}

func firstLine(b []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}
