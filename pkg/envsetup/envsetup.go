// Package envsetup validates and produces the environment contract consumed
// by dependent builds: a library directory and an include directory exposed
// through DUCKDB_LIB_DIR and DUCKDB_INCLUDE_DIR. The FFI binding generator
// and the linker read those two variables and nothing else.
package envsetup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"frozen-duckdb/pkg/arch"
)

// Env var names forming the contract with dependent builds.
const (
	LibDirVar     = "DUCKDB_LIB_DIR"
	IncludeDirVar = "DUCKDB_INCLUDE_DIR"
)

// Pair is one validated lib/include directory configuration.
type Pair struct {
	LibDir     string
	IncludeDir string
}

// FromEnviron extracts the pair from an environment snapshot (os.Environ or a
// test fixture). Both variables must be present for the pair to count as
// configured; IncludeDir defaults to LibDir/include when only the lib side is
// set, mirroring the consuming build script.
func FromEnviron(environ []string) (Pair, bool) {
	vals := make(map[string]string, 2)
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if k == LibDirVar || k == IncludeDirVar {
			vals[k] = strings.TrimSpace(v)
		}
	}

	lib := vals[LibDirVar]
	if lib == "" {
		return Pair{}, false
	}
	include := vals[IncludeDirVar]
	if include == "" {
		include = filepath.Join(lib, "include")
	}
	return Pair{LibDir: lib, IncludeDir: include}, true
}

// ValidateBinary checks that at least one known engine binary exists in the
// pair's library directory. It never loads the binary; existence is the whole
// contract (ABI verification is explicitly out of scope).
func (p Pair) ValidateBinary() error {
	candidates := []string{
		arch.BinaryName(arch.X8664),
		arch.BinaryName(arch.ARM64),
		arch.BinaryBase + "." + arch.LibraryExt(),
	}
	for _, name := range candidates {
		if info, err := os.Stat(filepath.Join(p.LibDir, name)); err == nil && info.Mode().IsRegular() {
			return nil
		}
	}
	return fmt.Errorf("envsetup: no engine binary found in %s (looked for %s)",
		p.LibDir, strings.Join(candidates, ", "))
}

// ExportScript renders a shell snippet pointing dependent builds at a cache
// entry. Writing it next to the artifact keeps `source` one predictable path.
func ExportScript(entryDir string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# Generated by frozen-duckdb. Source this before building dependents.\n")
	fmt.Fprintf(&b, "export %s=%q\n", LibDirVar, entryDir)
	fmt.Fprintf(&b, "export %s=%q\n", IncludeDirVar, entryDir)
	return b.String()
}

// WriteExportScript stores the snippet as setup_env.sh inside entryDir and
// returns its path.
func WriteExportScript(entryDir string) (string, error) {
	path := filepath.Join(entryDir, "setup_env.sh")
	if err := os.WriteFile(path, []byte(ExportScript(entryDir)), 0o755); err != nil {
		return "", fmt.Errorf("envsetup: writing export script: %w", err)
	}
	return path, nil
}
