package sourcebuild

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ToolRunner is the narrow seam between the builder and external toolchains.
// Implementations run one command to completion and report failure through an
// error; stdout/stderr are never parsed, only carried for diagnostics. Tests
// substitute a double here to fail the clone, configure, and build steps
// independently without invoking real tools.
type ToolRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) error
}

// ExecRunner runs tools via os/exec. Output is captured so a nonzero exit can
// surface a bounded tail of it alongside the exit status.
type ExecRunner struct {
	Logf func(string, ...any)
}

// Run executes name with args in dir and fails on any nonzero exit.
func (r ExecRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	if r.Logf != nil {
		r.Logf("running %s %s", name, strings.Join(args, " "))
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sourcebuild: %s exited abnormally: %w (output tail: %s)", name, err, tail(output.String(), 512))
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}
