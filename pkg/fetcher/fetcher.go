// Package fetcher downloads prebuilt engine artifacts from the pinned release
// location. One GET per artifact, no internal retries: the orchestrator's
// fallthrough to the source builder is the retry mechanism, so every failure
// here is reported as an ordinary tier failure and nothing more.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"frozen-duckdb/pkg/arch"
	"frozen-duckdb/pkg/cachestore"
)

// DefaultReleaseBase is the fixed release host template. The pinned version
// and artifact name are appended to form the final URL.
const DefaultReleaseBase = "https://github.com/seanchatmangpt/frozen-duckdb/releases/download"

// Fetcher pulls release artifacts over HTTPS and publishes them through the
// cache store. Collaborators are injected so tests can point it at a local
// server; nil fields fall back to sensible defaults.
type Fetcher struct {
	ReleaseBase string
	Client      *http.Client
	Logf        func(string, ...any)
}

// New returns a fetcher against the default release host.
func New() *Fetcher {
	return &Fetcher{ReleaseBase: DefaultReleaseBase}
}

// URL composes the deterministic download location for (version, tag).
func (f *Fetcher) URL(version string, tag arch.Tag) string {
	base := f.ReleaseBase
	if base == "" {
		base = DefaultReleaseBase
	}
	return fmt.Sprintf("%s/v%s/%s", strings.TrimRight(base, "/"), version, arch.BinaryName(tag))
}

// Fetch downloads the binary for (version, tag) and publishes it into the
// store, returning the published path. Header sidecars from the same release
// directory are fetched best-effort; their absence never fails the tier.
// Network errors, non-2xx statuses, and write errors are all plain failures.
func (f *Fetcher) Fetch(ctx context.Context, store *cachestore.Store, version string, tag arch.Tag) (string, error) {
	staging, err := os.MkdirTemp("", "frozen-duckdb-download-")
	if err != nil {
		return "", fmt.Errorf("fetcher: creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	url := f.URL(version, tag)
	f.logf("downloading %s", url)

	binaryTmp := filepath.Join(staging, arch.BinaryName(tag))
	if err := f.download(ctx, url, binaryTmp, true); err != nil {
		return "", err
	}

	var headers []string
	for _, name := range arch.HeaderNames() {
		headerURL := fmt.Sprintf("%s/v%s/%s", strings.TrimRight(f.baseOrDefault(), "/"), version, name)
		headerTmp := filepath.Join(staging, name)
		if err := f.download(ctx, headerURL, headerTmp, false); err != nil {
			f.logf("header %s not available in release: %v", name, err)
			continue
		}
		headers = append(headers, headerTmp)
	}

	path, err := store.WriteArtifact(version, tag, binaryTmp, headers)
	if err != nil {
		return "", fmt.Errorf("fetcher: publishing download: %w", err)
	}
	return path, nil
}

func (f *Fetcher) baseOrDefault() string {
	if f.ReleaseBase == "" {
		return DefaultReleaseBase
	}
	return f.ReleaseBase
}

// download streams one URL into dest. Any status outside 2xx is a failure,
// with a bounded body snippet kept for the diagnostic. The executable bit is
// set only for binaries, and only on POSIX platforms.
func (f *Fetcher) download(ctx context.Context, url, dest string, executable bool) error {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("fetcher: building request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetcher: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("fetcher: GET %s responded %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	mode := os.FileMode(0o644)
	if executable && runtime.GOOS != "windows" {
		mode = 0o755
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("fetcher: opening %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, withContextReader(ctx, resp.Body)); err != nil {
		return fmt.Errorf("fetcher: writing %s: %w", dest, err)
	}
	return nil
}

// withContextReader aborts long downloads when the context is cancelled.
func withContextReader(ctx context.Context, r io.Reader) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		defer pw.Close()
		buf := make([]byte, 32<<10)
		for {
			select {
			case <-ctx.Done():
				pw.CloseWithError(ctx.Err())
				return
			default:
			}
			n, err := r.Read(buf)
			if n > 0 {
				if _, werr := pw.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					pw.CloseWithError(err)
				}
				return
			}
		}
	}()
	return pr
}

func (f *Fetcher) logf(format string, args ...any) {
	if f.Logf != nil {
		f.Logf(format, args...)
	}
}
