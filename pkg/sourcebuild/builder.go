// Package sourcebuild is the last-resort acquisition tier: it clones the
// upstream engine at the pinned tag, drives the native build toolchain with a
// fixed feature set, and hunts the produced shared library across the output
// layouts the upstream build system has been known to use. The whole tier runs
// in a throwaway workspace that is destroyed no matter how the build ends.
package sourcebuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"frozen-duckdb/pkg/arch"
	"frozen-duckdb/pkg/cachestore"
)

// DefaultRepoURL is the upstream engine repository.
const DefaultRepoURL = "https://github.com/duckdb/duckdb.git"

// DefaultParallelism is the fixed build parallelism degree.
const DefaultParallelism = 4

// configureFlags is the fixed, explicit extension set every source build gets.
// Reproducibility over flexibility: this is project policy, not discovery.
var configureFlags = []string{
	"-DCMAKE_BUILD_TYPE=Release",
	"-DBUILD_EXTENSIONS=ON",
	"-DBUILD_PARQUET=ON",
	"-DBUILD_JSON=ON",
	"-DBUILD_ICU=ON",
	"-DBUILD_HTTPFS=ON",
	"-DBUILD_VISUALIZER=ON",
	"-DBUILD_TPCH=ON",
	"-DBUILD_TPCDS=ON",
	"-DBUILD_FTS=ON",
	"-DBUILD_INET=ON",
	"-DBUILD_EXCEL=ON",
	"-DBUILD_SQLSMITH=ON",
	"-DBUILD_TPCE=ON",
	"-DBUILD_JEMALLOC=ON",
	"-DBUILD_AUTOLOAD=ON",
	"-DBUILD_ARROW=ON",
	"-DBUILD_POLARS=ON",
}

// outputLayouts are the build-output conventions tolerated during artifact
// discovery, in tie-break order: flat under src/, flat at the build root, and
// the per-configuration Release subdirectory. First match wins.
var outputLayouts = []string{"src", ".", filepath.Join("src", "Release")}

// libraryExts are every shared-library extension the upstream build may emit,
// host extension first so the common case matches early.
func libraryExts() []string {
	host := arch.LibraryExt()
	exts := []string{host}
	for _, e := range []string{"so", "dylib", "dll"} {
		if e != host {
			exts = append(exts, e)
		}
	}
	return exts
}

// Builder compiles the engine from source and publishes the result through
// the cache store. Zero-value collaborators fall back to real defaults.
type Builder struct {
	Runner      ToolRunner
	RepoURL     string
	Parallelism int
	Logf        func(string, ...any)
}

// New returns a builder wired to the real toolchain.
func New() *Builder {
	return &Builder{Runner: ExecRunner{}, RepoURL: DefaultRepoURL, Parallelism: DefaultParallelism}
}

// Build runs the full source tier: clone, configure, build, discover, publish.
// Any step failing aborts the tier with context naming the step; the workspace
// is discarded either way. Returns the published binary path inside the store.
func (b *Builder) Build(ctx context.Context, store *cachestore.Store, version string, tag arch.Tag) (string, error) {
	runner := b.Runner
	if runner == nil {
		runner = ExecRunner{Logf: b.Logf}
	}
	repo := b.RepoURL
	if repo == "" {
		repo = DefaultRepoURL
	}
	jobs := b.Parallelism
	if jobs <= 0 {
		jobs = DefaultParallelism
	}

	workspace, err := os.MkdirTemp("", "frozen-duckdb-build-")
	if err != nil {
		return "", fmt.Errorf("sourcebuild: creating workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	srcDir := filepath.Join(workspace, "duckdb")

	b.logf("cloning %s at v%s", repo, version)
	if err := runner.Run(ctx, workspace, "git", "clone", "--depth", "1", "--branch", "v"+version, repo, srcDir); err != nil {
		return "", fmt.Errorf("sourcebuild: clone step: %w", err)
	}

	buildDir := filepath.Join(srcDir, "build")
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return "", fmt.Errorf("sourcebuild: creating build directory: %w", err)
	}

	b.logf("configuring with %d fixed extension flags", len(configureFlags))
	if err := runner.Run(ctx, buildDir, "cmake", append([]string{".."}, configureFlags...)...); err != nil {
		return "", fmt.Errorf("sourcebuild: configure step: %w", err)
	}

	b.logf("building with -j%d", jobs)
	if err := runner.Run(ctx, buildDir, "make", fmt.Sprintf("-j%d", jobs)); err != nil {
		return "", fmt.Errorf("sourcebuild: build step: %w", err)
	}

	built, err := findBuiltLibrary(buildDir)
	if err != nil {
		return "", fmt.Errorf("sourcebuild: discovery step: %w", err)
	}
	b.logf("found built library %s", built)

	var headers []string
	for _, name := range arch.HeaderNames() {
		h := filepath.Join(srcDir, "src", "include", name)
		if _, err := os.Stat(h); err == nil {
			headers = append(headers, h)
		}
	}

	path, err := store.WriteArtifact(version, tag, built, headers)
	if err != nil {
		return "", fmt.Errorf("sourcebuild: publishing build output: %w", err)
	}
	return path, nil
}

// findBuiltLibrary searches the tolerated output layouts in order and returns
// the first shared library matching the expected base name. The raw build
// output carries no architecture suffix; that is applied when the store copies
// it. When nothing matches, the actual build-directory contents go into the
// error so upstream layout changes produce an actionable report instead of an
// opaque miss.
func findBuiltLibrary(buildDir string) (string, error) {
	var tried []string
	for _, layout := range outputLayouts {
		for _, ext := range libraryExts() {
			candidate := filepath.Join(buildDir, layout, arch.BinaryBase+"."+ext)
			tried = append(tried, candidate)
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				return candidate, nil
			}
		}
	}

	var present []string
	for _, layout := range outputLayouts {
		entries, err := os.ReadDir(filepath.Join(buildDir, layout))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				present = append(present, filepath.Join(layout, e.Name()))
			}
		}
	}

	return "", fmt.Errorf("no built library in %s; tried %v; files present: %v", buildDir, tried, present)
}

func (b *Builder) logf(format string, args ...any) {
	if b.Logf != nil {
		b.Logf(format, args...)
	}
}
