// Package prebuilt locates engine artifacts checked in alongside the consuming
// project. This is the cheapest acquisition source after the cache itself: a
// pure existence check with no side effects, so it is safe to probe on every
// build.
package prebuilt

import (
	"os"
	"path/filepath"

	"frozen-duckdb/pkg/arch"
)

// DefaultDir is the conventional project-relative prebuilt directory.
const DefaultDir = "prebuilt"

// Locator scans one directory for architecture-specific artifacts.
type Locator struct {
	Dir string
}

// New returns a locator for dir, defaulting to ./prebuilt.
func New(dir string) *Locator {
	if dir == "" {
		dir = DefaultDir
	}
	return &Locator{Dir: dir}
}

// Find returns the path of the prebuilt binary for tag when it exists.
// The second return is false when either the directory or the file is absent;
// neither case is an error, the tier simply does not apply.
func (l *Locator) Find(tag arch.Tag) (string, bool) {
	path := filepath.Join(l.Dir, arch.BinaryName(tag))
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return path, true
}

// Headers returns the engine headers co-located with the prebuilt binaries.
// Missing headers are skipped so a binary-only prebuilt directory still works.
func (l *Locator) Headers() []string {
	var found []string
	for _, name := range arch.HeaderNames() {
		p := filepath.Join(l.Dir, name)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			found = append(found, p)
		}
	}
	return found
}
