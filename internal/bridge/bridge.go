// Package bridge validates generated Mermaid by running it through the
// official Mermaid parser in a Node.js subprocess.
package bridge

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
)

var (
	// ErrUnavailable is returned when node or the parser script is missing.
	ErrUnavailable = errors.New("mermaid bridge unavailable")
	// ErrParse is returned when the parser rejects the input.
	ErrParse = errors.New("mermaid parse failed")
)

// Script is the parser script shipped with the binary. WriteScript installs
// it where node can resolve the mermaid package.
//
//go:embed mermaid_parser.mjs
var Script []byte

const defaultTimeout = 30 * time.Second

// Node is a parsed vertex.
type Node struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Shape string `json:"shape"`
}

// Edge is a parsed connection.
type Edge struct {
	Src   string `json:"src"`
	Dst   string `json:"dst"`
	Label string `json:"label"`
	Style string `json:"style"`
}

// Stats is what the parser reports about a diagram.
type Stats struct {
	Direction string `json:"direction"`
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
}

// Validation summarizes s for a Result.
func (s *Stats) Validation() *diagram.Validation {
	return &diagram.Validation{Direction: s.Direction, Nodes: len(s.Nodes), Edges: len(s.Edges)}
}

// Bridge runs the parser script.
type Bridge struct {
	command string
	script  string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithCommand overrides the interpreter, "node" by default.
func WithCommand(cmd string) Option {
	return func(b *Bridge) { b.command = cmd }
}

// WithTimeout bounds a single parse.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a Bridge that runs script.
func New(script string, opts ...Option) *Bridge {
	b := &Bridge{command: "node", script: script, timeout: defaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Available reports whether the interpreter is on PATH and the script exists.
func (b *Bridge) Available() bool {
	if _, err := exec.LookPath(b.command); err != nil {
		return false
	}
	info, err := os.Stat(b.script)
	return err == nil && !info.IsDir()
}

// Parse pipes code through the parser.
func (b *Bridge) Parse(ctx context.Context, code string) (*Stats, error) {
	if !b.Available() {
		return nil, fmt.Errorf("%w: need %s and %s", ErrUnavailable, b.command, b.script)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.command, b.script)
	cmd.Dir = filepath.Dir(b.script)
	cmd.Stdin = strings.NewReader(code)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("bridge: %w", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		b.logger.Debug("mermaid parser rejected input", "error", msg)
		return nil, fmt.Errorf("%w: %s", ErrParse, msg)
	}
	if strings.TrimSpace(stdout.String()) == "" {
		return nil, fmt.Errorf("%w: empty parser output", ErrParse)
	}

	var stats Stats
	if err := json.Unmarshal(stdout.Bytes(), &stats); err != nil {
		return nil, fmt.Errorf("bridge: decode parser output: %w", err)
	}
	b.logger.Debug("mermaid parsed",
		"direction", stats.Direction,
		"nodes", len(stats.Nodes),
		"edges", len(stats.Edges),
		"duration", time.Since(start),
	)
	return &stats, nil
}

// Validate parses code and folds the outcome into a Validation. A parse
// failure is reported in Validation.Error; only an unavailable bridge
// returns an error.
func (b *Bridge) Validate(ctx context.Context, code string) (*diagram.Validation, error) {
	stats, err := b.Parse(ctx, code)
	switch {
	case errors.Is(err, ErrUnavailable):
		return nil, err
	case err != nil:
		return &diagram.Validation{Error: err.Error()}, nil
	}
	return stats.Validation(), nil
}

// WriteScript installs the embedded parser script into dir.
func WriteScript(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "mermaid_parser.mjs")
	if err := os.WriteFile(path, Script, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
