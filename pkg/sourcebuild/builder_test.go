package sourcebuild

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"frozen-duckdb/pkg/arch"
	"frozen-duckdb/pkg/cachestore"
)

const version = "1.4.0"

// fakeRunner stands in for the real toolchain. The clone call materializes a
// minimal source tree; onBuild lets each test decide what the "make" step
// produces; failOn fails exactly one named tool.
type fakeRunner struct {
	failOn   string
	onBuild  func(buildDir string)
	calls    []string
	buildDir string
}

func (r *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	r.calls = append(r.calls, name)
	if name == r.failOn {
		return errors.New(name + " exploded")
	}
	switch name {
	case "git":
		srcDir := args[len(args)-1]
		include := filepath.Join(srcDir, "src", "include")
		if err := os.MkdirAll(include, 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(include, "duckdb.h"), []byte("// header"), 0o644); err != nil {
			return err
		}
	case "make":
		r.buildDir = dir
		if r.onBuild != nil {
			r.onBuild(dir)
		}
	}
	return nil
}

func plantLibrary(t *testing.T, buildDir, layout string) {
	t.Helper()
	dir := filepath.Join(buildDir, layout)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("creating layout dir: %v", err)
	}
	name := arch.BinaryBase + "." + arch.LibraryExt()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("compiled engine"), 0o755); err != nil {
		t.Fatalf("planting library: %v", err)
	}
}

func TestBuildDiscoversEveryLayout(t *testing.T) {
	for _, layout := range []string{"src", ".", filepath.Join("src", "Release")} {
		t.Run(layout, func(t *testing.T) {
			store := cachestore.New(t.TempDir())
			runner := &fakeRunner{}
			runner.onBuild = func(buildDir string) { plantLibrary(t, buildDir, layout) }

			b := &Builder{Runner: runner}
			path, err := b.Build(context.Background(), store, version, arch.X8664)
			if err != nil {
				t.Fatalf("build failed for layout %q: %v", layout, err)
			}
			if !store.HasArtifact(version, arch.X8664) {
				t.Fatal("built artifact must land in the cache store")
			}
			content, err := os.ReadFile(path)
			if err != nil || string(content) != "compiled engine" {
				t.Fatalf("unexpected published content: %q err=%v", content, err)
			}
		})
	}
}

func TestBuildCopiesHeadersAndTearsDownWorkspace(t *testing.T) {
	store := cachestore.New(t.TempDir())
	runner := &fakeRunner{}
	runner.onBuild = func(buildDir string) { plantLibrary(t, buildDir, "src") }

	b := &Builder{Runner: runner}
	path, err := b.Build(context.Background(), store, version, arch.ARM64)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	headers := store.HeaderPaths(version, arch.ARM64)
	if len(headers) != 1 || filepath.Base(headers[0]) != "duckdb.h" {
		t.Fatalf("expected cloned header in the entry, got %v", headers)
	}

	if runner.buildDir == "" {
		t.Fatal("fake runner never saw the build step")
	}
	if _, err := os.Stat(runner.buildDir); !os.IsNotExist(err) {
		t.Fatalf("workspace must be destroyed after the build, stat err=%v", err)
	}
	if strings.HasPrefix(path, runner.buildDir) {
		t.Fatal("published path must point into the store, not the workspace")
	}
}

func TestBuildStepFailures(t *testing.T) {
	cases := []struct {
		tool string
		step string
	}{
		{"git", "clone step"},
		{"cmake", "configure step"},
		{"make", "build step"},
	}
	for _, tc := range cases {
		t.Run(tc.tool, func(t *testing.T) {
			store := cachestore.New(t.TempDir())
			b := &Builder{Runner: &fakeRunner{failOn: tc.tool}}
			_, err := b.Build(context.Background(), store, version, arch.X8664)
			if err == nil {
				t.Fatalf("expected %s failure to abort the tier", tc.tool)
			}
			if !strings.Contains(err.Error(), tc.step) {
				t.Fatalf("error must name the failed step %q: %v", tc.step, err)
			}
			if store.HasArtifact(version, arch.X8664) {
				t.Fatal("failed build must not populate the cache")
			}
		})
	}
}

func TestDiscoveryFailureListsActualFiles(t *testing.T) {
	store := cachestore.New(t.TempDir())
	runner := &fakeRunner{}
	runner.onBuild = func(buildDir string) {
		dir := filepath.Join(buildDir, "src")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "libduckdb_static.a"), []byte("ar"), 0o644); err != nil {
			t.Fatalf("planting stray file: %v", err)
		}
	}

	b := &Builder{Runner: runner}
	_, err := b.Build(context.Background(), store, version, arch.X8664)
	if err == nil {
		t.Fatal("expected discovery to fail")
	}
	if !strings.Contains(err.Error(), "discovery step") {
		t.Fatalf("error must name the discovery step: %v", err)
	}
	if !strings.Contains(err.Error(), "libduckdb_static.a") {
		t.Fatalf("diagnostic must list the files actually present: %v", err)
	}
}

func TestExecRunnerReportsExitStatus(t *testing.T) {
	err := ExecRunner{}.Run(context.Background(), t.TempDir(), "false")
	if err == nil {
		t.Fatal("expected nonzero exit to be reported")
	}
	if !strings.Contains(err.Error(), "exited abnormally") {
		t.Fatalf("unexpected error shape: %v", err)
	}
}
