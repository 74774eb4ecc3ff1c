package acqlog

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

type capture struct {
	mu    sync.Mutex
	lines []string
}

func (c *capture) logf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func (c *capture) joined() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.lines, "\n")
}

func TestSuccessDropsBuffer(t *testing.T) {
	var out capture
	tr := New(out.logf)
	tr.Begin("download")
	tr.Appendf("download", "GET https://example.invalid/libduckdb")
	tr.Success("download", "cached libduckdb_x86_64.so")
	tr.Close()

	got := out.joined()
	if strings.Contains(got, "GET https://example.invalid") {
		t.Fatalf("detail must be dropped on success, got: %s", got)
	}
	if !strings.Contains(got, "cached libduckdb_x86_64.so") {
		t.Fatalf("missing success line: %s", got)
	}
}

func TestFailureReplaysBuffer(t *testing.T) {
	var out capture
	tr := New(out.logf)
	tr.Begin("compile")
	tr.Appendf("compile", "cloning pinned tag v1.4.0")
	tr.Appendf("compile", "cmake exit status 1")
	tr.FlushError("compile", errors.New("configure step failed"))
	tr.Close()

	got := out.joined()
	for _, want := range []string{"cloning pinned tag v1.4.0", "cmake exit status 1", "configure step failed"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in replayed output: %s", want, got)
		}
	}
}

func TestAppendWithoutBeginWritesImmediately(t *testing.T) {
	var out capture
	tr := New(out.logf)
	tr.Appendf("cache", "probing entry")
	tr.Close()

	if !strings.Contains(out.joined(), "probing entry") {
		t.Fatalf("unbuffered append must be written immediately: %s", out.joined())
	}
}
