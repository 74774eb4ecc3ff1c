package arch

import (
	"runtime"
	"strings"
	"testing"
)

func TestResolveOverride(t *testing.T) {
	if got := Resolve("x86_64"); got != X8664 {
		t.Fatalf("unexpected tag for x86_64: %q", got)
	}
	if got := Resolve("amd64"); got != X8664 {
		t.Fatalf("amd64 should normalize to x86_64, got %q", got)
	}
	if got := Resolve("aarch64"); got != ARM64 {
		t.Fatalf("aarch64 should normalize to arm64, got %q", got)
	}
	if got := Resolve(" arm64 "); got != ARM64 {
		t.Fatalf("expected whitespace to be trimmed, got %q", got)
	}
}

func TestResolveHostFallback(t *testing.T) {
	tag := Resolve("")
	if tag == "" {
		t.Fatal("empty override must resolve to the host architecture")
	}
	if runtime.GOARCH == "amd64" && tag != X8664 {
		t.Fatalf("host amd64 should resolve to x86_64, got %q", tag)
	}
	if runtime.GOARCH == "arm64" && tag != ARM64 {
		t.Fatalf("host arm64 should resolve to arm64, got %q", tag)
	}
}

func TestResolveUnknownPassesThrough(t *testing.T) {
	if got := Resolve("riscv64"); got != Tag("riscv64") {
		t.Fatalf("unknown tags must pass through, got %q", got)
	}
}

func TestIsSupported(t *testing.T) {
	if !IsSupported(X8664) || !IsSupported(ARM64) {
		t.Fatal("x86_64 and arm64 must be supported")
	}
	if IsSupported(Tag("riscv64")) || IsSupported(Tag("")) {
		t.Fatal("unknown tags must not report as supported")
	}
}

func TestBinaryName(t *testing.T) {
	name := BinaryName(X8664)
	if !strings.HasPrefix(name, "libduckdb_x86_64.") {
		t.Fatalf("unexpected binary name: %q", name)
	}
	if !strings.HasSuffix(name, LibraryExt()) {
		t.Fatalf("binary name missing platform extension: %q", name)
	}
}

func TestBinaryNameGenericFallback(t *testing.T) {
	name := BinaryName(Tag("riscv64"))
	if !strings.HasPrefix(name, "libduckdb.") {
		t.Fatalf("unsupported tags should use the generic name, got %q", name)
	}
	if strings.Contains(name, "riscv64") {
		t.Fatalf("generic name must not embed the unsupported tag: %q", name)
	}
}
