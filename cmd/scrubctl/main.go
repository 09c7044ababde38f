// scrubctl runs the scrubbing pipeline stages from the command line, using
// the same environment configuration as the API server.
//
//	scrubctl probe
//	scrubctl clean [--strategies mat2,exiftool] <in> <out>
//	scrubctl hash [--algorithm sha256] <file>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"scrubapi/internal/config"
	"scrubapi/internal/hasher"
	"scrubapi/internal/logger"
	"scrubapi/internal/scrubber"
	"scrubapi/internal/tempfile"
)

var errUsage = errors.New("usage: scrubctl <probe|clean|hash> [flags] [args]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, logger.New(os.Stderr, nil)); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer, log zerolog.Logger) error {
	if len(args) == 0 {
		return errUsage
	}
	cfg := config.Load()

	switch args[0] {
	case "probe":
		return probeCmd(ctx, cfg, out, log)
	case "clean":
		return cleanCmd(ctx, cfg, args[1:], out, log)
	case "hash":
		return hashCmd(cfg, args[1:], out)
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
}

func newProbe(cfg *config.AppConfig, log zerolog.Logger) (scrubber.Runner, *scrubber.Probe, error) {
	runner, err := scrubber.NewRunner(cfg.Scrub)
	if err != nil {
		return nil, nil, err
	}
	probe := scrubber.NewProbe(runner, scrubber.ProbeOptions{
		Timeout:     cfg.Scrub.ProbeTimeout,
		NegativeTTL: cfg.Scrub.ProbeNegativeTTL,
		Logger:      log,
	})
	return runner, probe, nil
}

func probeCmd(ctx context.Context, cfg *config.AppConfig, out io.Writer, log zerolog.Logger) error {
	runner, probe, err := newProbe(cfg, log)
	if err != nil {
		return err
	}
	report := map[string]scrubber.ToolStatus{}
	for _, t := range []scrubber.Tool{scrubber.Mat2Tool, scrubber.ExifToolTool} {
		report[t.Name] = probe.Check(ctx, t)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"runner": runner.Name(), "tools": report})
}

func cleanCmd(ctx context.Context, cfg *config.AppConfig, args []string, out io.Writer, log zerolog.Logger) error {
	fs := pflag.NewFlagSet("clean", pflag.ContinueOnError)
	names := fs.StringSlice("strategies", nil, "ordered strategy chain (default: SCRUB_STRATEGIES)")
	mimeType := fs.String("mime", "", "content type of the input (default: guessed from extension)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("clean needs <in> <out>: %w", errUsage)
	}
	in, dst := fs.Arg(0), fs.Arg(1)

	if len(*names) > 0 {
		chain := make([]config.StrategyConfig, 0, len(*names))
		for _, n := range *names {
			chain = append(chain, config.StrategyConfig{Name: n, Enabled: true})
		}
		cfg.Scrub.Strategies = chain
	}

	runner, probe, err := newProbe(cfg, log)
	if err != nil {
		return err
	}
	strategies, err := scrubber.FromConfig(cfg.Scrub.Strategies, runner, probe)
	if err != nil {
		return err
	}
	s := scrubber.New(strategies,
		scrubber.ExtractorChain{scrubber.NewExifToolExtractor(runner, probe), scrubber.PDFExtractor{}},
		scrubber.Options{Timeout: cfg.Scrub.Timeout, Logger: log},
	)

	original, err := os.ReadFile(in)
	if err != nil {
		return err
	}

	registry, err := tempfile.NewRegistry(cfg.Upload.ScratchDir)
	if err != nil {
		return err
	}
	arena := registry.Open(uuid.NewString())
	defer arena.Close()

	input, err := arena.Acquire("input" + filepath.Ext(in))
	if err != nil {
		return err
	}
	if err := os.WriteFile(input.Path(), original, 0o600); err != nil {
		return err
	}

	ct := *mimeType
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(in))
	}
	outcome := s.Scrub(ctx, arena, input.Path(), ct)
	if err := os.WriteFile(dst, outcome.Final(original), 0o644); err != nil {
		return err
	}

	attempts := make([]map[string]any, 0, len(outcome.Attempts))
	for _, a := range outcome.Attempts {
		entry := map[string]any{"strategy": a.Strategy, "succeeded": a.Succeeded}
		if a.Err != nil {
			entry["error"] = a.Err.Error()
		}
		attempts = append(attempts, entry)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"cleaned":         outcome.Cleaned,
		"strategy":        outcome.Strategy(),
		"attempts":        attempts,
		"sensitiveFields": outcome.OriginalMetadata.Sensitive(),
	})
}

func hashCmd(cfg *config.AppConfig, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("hash", pflag.ContinueOnError)
	alg := fs.StringP("algorithm", "a", cfg.HashAlgorithm, "digest algorithm (sha256, blake3)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("hash needs <file>: %w", errUsage)
	}

	h, err := hasher.New(*alg)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s  %s\n", h.Digest(data).Qualified(), fs.Arg(0))
	return err
}
