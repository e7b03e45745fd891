// Package validate checks patched bundles with the host's JavaScript runtime.
package validate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ErrUnavailable is returned when no syntax checker can be found.
var ErrUnavailable = errors.New("syntax checker not available")

// SyntaxError reports a file the checker rejected.
type SyntaxError struct {
	Path   string
	Output string
}

func (e *SyntaxError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("syntax check failed for %s", e.Path)
	}
	return fmt.Sprintf("syntax check failed for %s: %s", e.Path, e.Output)
}

// Checker validates a file on disk.
type Checker interface {
	Check(ctx context.Context, path string) error
}

// NodeFallbacks are tried when node is not on PATH. Service managers often
// start the host with a minimal environment.
var NodeFallbacks = []string{
	"/opt/homebrew/bin/node",
	"/usr/local/bin/node",
	"/usr/bin/node",
}

// NodeChecker runs `node --check`.
type NodeChecker struct {
	// Path overrides discovery when set.
	Path string
}

// Resolve returns the node binary the checker will run.
func (c NodeChecker) Resolve() (string, error) {
	if c.Path != "" {
		if isExecutable(c.Path) {
			return c.Path, nil
		}
		return "", fmt.Errorf("%w: %s is not executable", ErrUnavailable, c.Path)
	}
	if p, err := exec.LookPath("node"); err == nil {
		return p, nil
	}
	for _, p := range NodeFallbacks {
		if isExecutable(p) {
			return p, nil
		}
	}
	return "", ErrUnavailable
}

// Check parses path without executing it.
func (c NodeChecker) Check(ctx context.Context, path string) error {
	bin, err := c.Resolve()
	if err != nil {
		return err
	}
	out, err := exec.CommandContext(ctx, bin, "--check", path).CombinedOutput()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &SyntaxError{Path: path, Output: strings.TrimSpace(string(out))}
	}
	return fmt.Errorf("failed to run %s: %w", bin, err)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}
