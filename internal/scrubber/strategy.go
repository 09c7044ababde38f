package scrubber

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"scrubapi/internal/config"
	"scrubapi/internal/model"
)

// Strategy removes metadata from one file using a particular tool.
type Strategy interface {
	Name() string
	// Available is cheap after the first call; the result comes from a Probe.
	Available(ctx context.Context) bool
	// Clean writes a cleaned copy of in to out. It never modifies in.
	Clean(ctx context.Context, in, out string) error
	// Report lists the metadata the tool still sees in path.
	Report(ctx context.Context, path string) (model.Metadata, error)
}

var (
	Mat2Tool     = Tool{Name: "mat2", VersionArgs: []string{"--version"}}
	ExifToolTool = Tool{Name: "exiftool", VersionArgs: []string{"-ver"}}
)

// toolStrategy is a Strategy driven entirely by invocation templates, so new
// tools only need a constructor.
type toolStrategy struct {
	name   string
	tool   Tool
	runner Runner
	probe  *Probe
	clean  func(in, out string) Invocation
	report func(path string) Invocation
	parse  func(stdout []byte) (model.Metadata, error)
}

func (s *toolStrategy) Name() string { return s.name }

func (s *toolStrategy) Available(ctx context.Context) bool {
	return s.probe.Available(ctx, s.tool)
}

func (s *toolStrategy) Clean(ctx context.Context, in, out string) error {
	_, err := s.runner.Run(ctx, s.clean(in, out))
	return err
}

func (s *toolStrategy) Report(ctx context.Context, path string) (model.Metadata, error) {
	res, err := s.runner.Run(ctx, s.report(path))
	if err != nil {
		return nil, err
	}
	return s.parse(res.Stdout)
}

// NewMat2 cleans with mat2. mat2 only rewrites in place, so the output path is
// seeded with a copy of the input first and the original stays untouched.
func NewMat2(runner Runner, probe *Probe) Strategy {
	return &toolStrategy{
		name:   "mat2",
		tool:   Mat2Tool,
		runner: runner,
		probe:  probe,
		clean: func(in, out string) Invocation {
			return Invocation{
				Tool:       Mat2Tool.Name,
				Args:       []string{"--inplace", OutputToken},
				Input:      in,
				Output:     out,
				SeedOutput: true,
			}
		},
		report: func(path string) Invocation {
			return Invocation{Tool: Mat2Tool.Name, Args: []string{"--show", InputToken}, Input: path}
		},
		parse: parseMat2Show,
	}
}

// NewExifTool strips every writable tag with exiftool, writing a new file.
func NewExifTool(runner Runner, probe *Probe) Strategy {
	return &toolStrategy{
		name:   "exiftool",
		tool:   ExifToolTool,
		runner: runner,
		probe:  probe,
		clean: func(in, out string) Invocation {
			return Invocation{
				Tool:   ExifToolTool.Name,
				Args:   []string{"-all=", "-o", OutputToken, InputToken},
				Input:  in,
				Output: out,
			}
		},
		report: func(path string) Invocation {
			return exifToolReadInvocation(path)
		},
		parse: parseExifToolJSON,
	}
}

var constructors = map[string]func(Runner, *Probe) Strategy{
	"mat2":     NewMat2,
	"exiftool": NewExifTool,
}

// KnownStrategies lists the strategy names accepted by FromConfig.
func KnownStrategies() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromConfig builds the ordered strategy list, skipping disabled entries.
func FromConfig(cfgs []config.StrategyConfig, runner Runner, probe *Probe) ([]Strategy, error) {
	out := make([]Strategy, 0, len(cfgs))
	for _, c := range cfgs {
		ctor, ok := constructors[strings.ToLower(c.Name)]
		if !ok {
			return nil, fmt.Errorf("scrubber: unknown strategy %q (known: %s)", c.Name, strings.Join(KnownStrategies(), ", "))
		}
		if !c.Enabled {
			continue
		}
		out = append(out, ctor(runner, probe))
	}
	return out, nil
}

// parseMat2Show reads the indented "key: value" lines of `mat2 --show`.
func parseMat2Show(stdout []byte) (model.Metadata, error) {
	md := model.Metadata{}
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimSpace(line), ": ")
		if !ok || key == "" {
			continue
		}
		md[key] = model.String(value)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parse mat2 output: %w", err)
	}
	return md, nil
}
