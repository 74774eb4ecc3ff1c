// Package cachestore owns the persistent, architecture-partitioned artifact
// cache under the user's home directory. Entries are immutable once published:
// writers stage into a sibling temporary directory and rename it into place,
// so readers never observe a half-written entry. The rename is the only
// mutation primitive; there is no locking, and concurrent writers of the same
// entry are benign because the content for a given (version, arch) pair is
// identical no matter who produced it.
package cachestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/crypto/blake2b"

	"frozen-duckdb/pkg/arch"
)

// ManifestName is the completion marker written last into a staged entry.
// An entry without it is treated as partial and never reported as a hit.
const ManifestName = "manifest.blake2b"

// Store resolves and mutates cache entries under Root.
type Store struct {
	Root string
	Logf func(string, ...any)
}

// New returns a store rooted at root. Logf defaults to a no-op so library
// callers are not forced to wire logging.
func New(root string) *Store {
	return &Store{Root: root, Logf: func(string, ...any) {}}
}

// DefaultRoot returns ~/.frozen-duckdb/cache without creating it.
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cachestore: resolving home directory: %w", err)
	}
	return filepath.Join(home, ".frozen-duckdb", "cache"), nil
}

// EntryPath returns the directory holding one (version, arch) artifact.
// Purely computational; nothing is created.
func (s *Store) EntryPath(version string, tag arch.Tag) string {
	return filepath.Join(s.Root, fmt.Sprintf("v%s-%s", version, tag))
}

// BinaryPath returns where the shared library lives inside an entry.
func (s *Store) BinaryPath(version string, tag arch.Tag) string {
	return filepath.Join(s.EntryPath(version, tag), arch.BinaryName(tag))
}

// HasArtifact reports whether a complete entry exists for (version, tag).
// A missing or uncreatable cache root degrades to "no cache available" (false)
// rather than an error, so the orchestrator can fall through to the next tier.
// Completeness means the binary is present, the manifest marker exists, and
// the binary's digest matches the one recorded at publish time; a truncated
// file planted by a crashed run fails all the same checks a fresh miss does.
func (s *Store) HasArtifact(version string, tag arch.Tag) bool {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		s.logf("cache root %s unavailable: %v", s.Root, err)
		return false
	}

	binary := s.BinaryPath(version, tag)
	info, err := os.Stat(binary)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return false
	}

	manifest, err := readManifest(filepath.Join(s.EntryPath(version, tag), ManifestName))
	if err != nil {
		s.logf("entry %s has no completion manifest, treating as partial", s.EntryPath(version, tag))
		return false
	}
	want, ok := manifest[filepath.Base(binary)]
	if !ok {
		return false
	}
	got, err := fileDigest(binary)
	if err != nil || got != want {
		s.logf("entry %s failed digest verification, treating as partial", s.EntryPath(version, tag))
		return false
	}
	return true
}

// WriteArtifact publishes a new entry from the given binary and header files.
// Everything is copied into a staging directory next to the final location,
// the manifest is written last, and the staging directory is renamed into
// place. A leftover partial entry from a crashed run is replaced. Returns the
// path of the published binary.
func (s *Store) WriteArtifact(version string, tag arch.Tag, binarySrc string, headerSrcs []string) (string, error) {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return "", fmt.Errorf("cachestore: creating cache root: %w", err)
	}

	stage, err := os.MkdirTemp(s.Root, fmt.Sprintf(".stage-v%s-%s-", version, tag))
	if err != nil {
		return "", fmt.Errorf("cachestore: creating staging directory: %w", err)
	}
	defer os.RemoveAll(stage)

	manifest := make(map[string]string)

	binaryName := arch.BinaryName(tag)
	digest, err := copyFile(binarySrc, filepath.Join(stage, binaryName), true)
	if err != nil {
		return "", fmt.Errorf("cachestore: staging binary: %w", err)
	}
	manifest[binaryName] = digest

	for _, src := range headerSrcs {
		name := filepath.Base(src)
		digest, err := copyFile(src, filepath.Join(stage, name), false)
		if err != nil {
			return "", fmt.Errorf("cachestore: staging header %s: %w", name, err)
		}
		manifest[name] = digest
	}

	if err := writeManifest(filepath.Join(stage, ManifestName), manifest); err != nil {
		return "", fmt.Errorf("cachestore: writing manifest: %w", err)
	}

	entry := s.EntryPath(version, tag)
	if err := os.Rename(stage, entry); err != nil {
		// The destination may hold a partial entry from a crashed run, or a
		// complete one published by a concurrent build. A complete entry is
		// equivalent content, so adopt it; a partial one is replaced.
		if s.HasArtifact(version, tag) {
			return s.BinaryPath(version, tag), nil
		}
		if rmErr := os.RemoveAll(entry); rmErr != nil {
			return "", fmt.Errorf("cachestore: replacing partial entry: %w", errors.Join(err, rmErr))
		}
		if err := os.Rename(stage, entry); err != nil {
			return "", fmt.Errorf("cachestore: publishing entry: %w", err)
		}
	}

	s.logf("published cache entry %s", entry)
	return s.BinaryPath(version, tag), nil
}

// HeaderPaths lists the engine headers present in an entry. Missing headers
// are skipped; remote releases do not always ship them.
func (s *Store) HeaderPaths(version string, tag arch.Tag) []string {
	var found []string
	for _, name := range arch.HeaderNames() {
		p := filepath.Join(s.EntryPath(version, tag), name)
		if _, err := os.Stat(p); err == nil {
			found = append(found, p)
		}
	}
	return found
}

func (s *Store) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
	}
}

// copyFile streams src into dst while computing its BLAKE2b digest. The
// executable bit is set for binaries on POSIX platforms.
func copyFile(src, dst string, executable bool) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	mode := os.FileMode(0o644)
	if executable && runtime.GOOS != "windows" {
		mode = 0o755
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return "", err
	}
	defer out.Close()

	hash, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(io.MultiWriter(out, hash), in); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

func fileDigest(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()
	hash, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(hash, in); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// writeManifest stores "digest  filename" lines, one per staged file.
func writeManifest(path string, entries map[string]string) error {
	var b strings.Builder
	for name, digest := range entries {
		fmt.Fprintf(&b, "%s  %s\n", digest, name)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func readManifest(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	entries := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		digest, name, ok := strings.Cut(line, "  ")
		if !ok {
			return nil, fmt.Errorf("cachestore: malformed manifest line %q", line)
		}
		entries[name] = digest
	}
	return entries, nil
}
