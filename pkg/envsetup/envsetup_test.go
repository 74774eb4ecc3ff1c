package envsetup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"frozen-duckdb/pkg/arch"
)

func TestFromEnvironUnset(t *testing.T) {
	if _, ok := FromEnviron([]string{"PATH=/usr/bin"}); ok {
		t.Fatal("unset variables must not report as configured")
	}
}

func TestFromEnvironBothSet(t *testing.T) {
	pair, ok := FromEnviron([]string{
		"DUCKDB_LIB_DIR=/opt/duckdb/lib",
		"DUCKDB_INCLUDE_DIR=/opt/duckdb/include",
	})
	if !ok {
		t.Fatal("expected configured pair")
	}
	if pair.LibDir != "/opt/duckdb/lib" || pair.IncludeDir != "/opt/duckdb/include" {
		t.Fatalf("unexpected pair: %+v", pair)
	}
}

func TestFromEnvironIncludeDefaultsToLibSubdir(t *testing.T) {
	pair, ok := FromEnviron([]string{"DUCKDB_LIB_DIR=/opt/duckdb/lib"})
	if !ok {
		t.Fatal("lib-only configuration should still count, with derived include dir")
	}
	if pair.IncludeDir != filepath.Join("/opt/duckdb/lib", "include") {
		t.Fatalf("unexpected derived include dir: %q", pair.IncludeDir)
	}
}

func TestValidateBinary(t *testing.T) {
	dir := t.TempDir()
	pair := Pair{LibDir: dir, IncludeDir: dir}

	if err := pair.ValidateBinary(); err == nil {
		t.Fatal("empty lib dir must fail validation")
	}

	name := arch.BinaryName(arch.ARM64)
	if err := os.WriteFile(filepath.Join(dir, name), []byte("engine"), 0o755); err != nil {
		t.Fatalf("writing binary: %v", err)
	}
	if err := pair.ValidateBinary(); err != nil {
		t.Fatalf("expected validation to pass with %s present: %v", name, err)
	}
}

func TestWriteExportScript(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteExportScript(dir)
	if err != nil {
		t.Fatalf("writing script: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading script: %v", err)
	}
	for _, want := range []string{"DUCKDB_LIB_DIR", "DUCKDB_INCLUDE_DIR", dir} {
		if !strings.Contains(string(content), want) {
			t.Fatalf("script missing %q:\n%s", want, content)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode()&0o111 == 0 {
		t.Fatal("export script should be executable")
	}
}
