// Package arch maps host platforms to the canonical architecture tags used in
// artifact names and cache entry paths. Every other package derives its naming
// from the tag returned here, so normalization happens in exactly one place.
package arch

import (
	"runtime"
	"strings"
)

// BinaryBase is the base name of the engine shared library. Architecture
// suffixes and platform extensions are composed around it.
const BinaryBase = "libduckdb"

// Tag identifies one binary flavor. Synonymous platform spellings collapse to
// a single tag so the cache never splits one architecture across two entries.
type Tag string

const (
	X8664 Tag = "x86_64"
	ARM64 Tag = "arm64"
)

// Resolve turns an override (usually the ARCH environment variable, read by
// the caller) or the compiled-in platform into a canonical tag. Unknown values
// pass through verbatim rather than failing: downstream code still composes a
// generic artifact name for them, and IsSupported carries the warning.
func Resolve(override string) Tag {
	raw := strings.TrimSpace(override)
	if raw == "" {
		raw = runtime.GOARCH
	}
	switch strings.ToLower(raw) {
	case "x86_64", "amd64":
		return X8664
	case "arm64", "aarch64":
		return ARM64
	default:
		return Tag(raw)
	}
}

// IsSupported reports whether optimized prebuilt binaries exist for the tag.
// It is informational only; unsupported tags fall back to the generic binary
// name instead of aborting acquisition.
func IsSupported(tag Tag) bool {
	return tag == X8664 || tag == ARM64
}

// BinaryName composes the architecture-specific shared library filename for
// the host platform, e.g. libduckdb_arm64.so on Linux. Unsupported tags get
// the generic name so discovery still has something to search for.
func BinaryName(tag Tag) string {
	if !IsSupported(tag) {
		return BinaryBase + "." + LibraryExt()
	}
	return BinaryBase + "_" + string(tag) + "." + LibraryExt()
}

// LibraryExt returns the shared-library extension for the running OS.
func LibraryExt() string {
	switch runtime.GOOS {
	case "darwin":
		return "dylib"
	case "windows":
		return "dll"
	default:
		return "so"
	}
}

// HeaderNames lists the engine headers that travel with every artifact. The
// FFI binding generator expects both next to the library.
func HeaderNames() []string {
	return []string{"duckdb.h", "duckdb.hpp"}
}
