package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"frozen-duckdb/pkg/arch"
	"frozen-duckdb/pkg/cachestore"
)

const version = "1.4.0"

func TestURLComposition(t *testing.T) {
	f := New()
	url := f.URL(version, arch.X8664)
	want := fmt.Sprintf("%s/v1.4.0/%s", DefaultReleaseBase, arch.BinaryName(arch.X8664))
	if url != want {
		t.Fatalf("unexpected URL: %q want %q", url, want)
	}
}

func TestFetchPublishesBinaryAndHeaders(t *testing.T) {
	binName := arch.BinaryName(arch.ARM64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, binName):
			fmt.Fprint(w, "release engine bytes")
		case strings.HasSuffix(r.URL.Path, "duckdb.h"):
			fmt.Fprint(w, "// c header")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	store := cachestore.New(t.TempDir())
	f := &Fetcher{ReleaseBase: srv.URL}

	path, err := f.Fetch(context.Background(), store, version, arch.ARM64)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if !store.HasArtifact(version, arch.ARM64) {
		t.Fatal("fetched artifact must be a cache hit afterwards")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading published binary: %v", err)
	}
	if string(content) != "release engine bytes" {
		t.Fatalf("unexpected published content: %q", content)
	}

	// duckdb.h was served, duckdb.hpp was not; only the former lands.
	headers := store.HeaderPaths(version, arch.ARM64)
	if len(headers) != 1 || !strings.HasSuffix(headers[0], "duckdb.h") {
		t.Fatalf("unexpected headers: %v", headers)
	}
}

func TestDownloadModeFollowsArtifactKind(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no POSIX permission bits on windows")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "payload")
	}))
	defer srv.Close()

	f := &Fetcher{ReleaseBase: srv.URL}
	dir := t.TempDir()

	bin := filepath.Join(dir, "engine.so")
	if err := f.download(context.Background(), srv.URL+"/bin", bin, true); err != nil {
		t.Fatalf("binary download failed: %v", err)
	}
	hdr := filepath.Join(dir, "duckdb.h")
	if err := f.download(context.Background(), srv.URL+"/hdr", hdr, false); err != nil {
		t.Fatalf("header download failed: %v", err)
	}

	binInfo, err := os.Stat(bin)
	if err != nil {
		t.Fatalf("stat binary: %v", err)
	}
	if binInfo.Mode().Perm()&0o111 == 0 {
		t.Fatalf("binary must be staged executable, got %v", binInfo.Mode())
	}
	hdrInfo, err := os.Stat(hdr)
	if err != nil {
		t.Fatalf("stat header: %v", err)
	}
	if hdrInfo.Mode().Perm()&0o111 != 0 {
		t.Fatalf("header must not be staged executable, got %v", hdrInfo.Mode())
	}
}

func TestFetchNonSuccessStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such release", http.StatusNotFound)
	}))
	defer srv.Close()

	store := cachestore.New(t.TempDir())
	f := &Fetcher{ReleaseBase: srv.URL}

	_, err := f.Fetch(context.Background(), store, version, arch.X8664)
	if err == nil {
		t.Fatal("404 must be a tier failure")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Fatalf("error should carry the status for the diagnostic: %v", err)
	}
	if store.HasArtifact(version, arch.X8664) {
		t.Fatal("failed download must not populate the cache")
	}
}

func TestFetchUnreachableHostFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // unreachable from here on

	store := cachestore.New(t.TempDir())
	f := &Fetcher{ReleaseBase: srv.URL}

	if _, err := f.Fetch(context.Background(), store, version, arch.X8664); err == nil {
		t.Fatal("transport error must be a tier failure")
	}
}

func TestFetchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "bytes")
	}))
	defer srv.Close()

	store := cachestore.New(t.TempDir())
	f := &Fetcher{ReleaseBase: srv.URL}

	if _, err := f.Fetch(ctx, store, version, arch.X8664); err == nil {
		t.Fatal("cancelled context must abort the download")
	}
}
