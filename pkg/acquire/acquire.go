// Package acquire sequences the four acquisition tiers (cache, local
// prebuilt, remote download, source compile) into one EnsureBinary call with
// deterministic fallback ordering. Tiers are plain strategy objects iterated
// in order, so adding or reordering one is a data change, not a control-flow
// rewrite. No state is revisited within a call: the machine is strictly
// linear and terminates in at most four attempts.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"frozen-duckdb/pkg/acqlog"
	"frozen-duckdb/pkg/arch"
	"frozen-duckdb/pkg/cachestore"
	"frozen-duckdb/pkg/fetcher"
	"frozen-duckdb/pkg/prebuilt"
	"frozen-duckdb/pkg/sourcebuild"
)

// EngineVersion is the pinned engine release every tier resolves against.
// A new version produces new cache entries; existing ones are never mutated.
const EngineVersion = "1.4.0"

// Config carries everything the orchestrator needs, explicitly. Environment
// variables are read by the outermost entry point and passed in here, never
// consulted ambiently, so every tier stays testable without process-global
// state.
type Config struct {
	Version     string   // engine version, defaults to EngineVersion
	Tag         arch.Tag // resolved architecture tag, defaults to the host's
	CacheRoot   string   // defaults to ~/.frozen-duckdb/cache
	PrebuiltDir string   // defaults to ./prebuilt
	ReleaseBase string   // defaults to the pinned release host

	// LibDir/IncludeDir, when both set, mean the consumer has already
	// arranged the binary itself; the whole machine is short-circuited.
	LibDir     string
	IncludeDir string

	Client  *http.Client           // HTTP client for the download tier
	Runner  sourcebuild.ToolRunner // toolchain seam for the compile tier
	Logf    func(string, ...any)
	Tracker *acqlog.Tracker
}

// Strategy is one acquisition tier: attempt once, return the authoritative
// artifact path or a failure with its reason. No retries inside a tier.
type Strategy interface {
	Name() string
	Acquire(ctx context.Context) (string, error)
}

// Orchestrator owns the ordered tier list and the shared cache store.
type Orchestrator struct {
	cfg        Config
	store      *cachestore.Store
	strategies []Strategy
	tracker    *acqlog.Tracker
	logf       func(string, ...any)
}

// New validates configuration, fills defaults, and wires the standard tier
// order. The cache store is the only long-lived shared resource and is
// injected into every tier that writes.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Version == "" {
		cfg.Version = EngineVersion
	}
	if cfg.Tag == "" {
		cfg.Tag = arch.Resolve("")
	}
	if cfg.CacheRoot == "" {
		root, err := cachestore.DefaultRoot()
		if err != nil {
			return nil, fmt.Errorf("acquire: %w", err)
		}
		cfg.CacheRoot = root
	}
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...any) {}
	}

	store := cachestore.New(cfg.CacheRoot)
	store.Logf = cfg.Logf

	o := &Orchestrator{cfg: cfg, store: store, tracker: cfg.Tracker, logf: cfg.Logf}
	o.strategies = []Strategy{
		&cacheTier{o},
		&prebuiltTier{o},
		&downloadTier{o},
		&compileTier{o},
	}
	return o, nil
}

// Store exposes the orchestrator's cache store, mainly for callers that need
// header locations after a successful EnsureBinary.
func (o *Orchestrator) Store() *cachestore.Store { return o.store }

// EnsureBinary guarantees a usable engine binary exists at the returned path,
// trying progressively more expensive tiers until one succeeds. Per-tier
// failures are logged with their diagnostics and folded into the aggregate
// error that is returned only when every tier is exhausted.
func (o *Orchestrator) EnsureBinary(ctx context.Context) (string, error) {
	if o.cfg.LibDir != "" && o.cfg.IncludeDir != "" {
		return o.preconfigured()
	}

	var failures []error
	for _, tier := range o.strategies {
		o.trackBegin(tier.Name())
		path, err := tier.Acquire(ctx)
		if err != nil {
			o.trackError(tier.Name(), err)
			failures = append(failures, fmt.Errorf("%s: %w", tier.Name(), err))
			continue
		}
		o.trackSuccess(tier.Name(), path)
		return path, nil
	}

	return "", fmt.Errorf("acquire: all tiers failed for v%s-%s: %w",
		o.cfg.Version, o.cfg.Tag, errors.Join(failures...))
}

// preconfigured resolves the artifact inside a caller-arranged library
// directory. The caller promised the binary is there; we still check, because
// a missing file at link time is far harder to diagnose than a failure here.
func (o *Orchestrator) preconfigured() (string, error) {
	candidates := []string{
		filepath.Join(o.cfg.LibDir, arch.BinaryName(o.cfg.Tag)),
		filepath.Join(o.cfg.LibDir, arch.BinaryBase+"."+arch.LibraryExt()),
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.Mode().IsRegular() {
			o.logf("using preconfigured engine binary %s", c)
			return c, nil
		}
	}
	return "", fmt.Errorf("acquire: preconfigured library directory %s holds no engine binary (looked for %v)",
		o.cfg.LibDir, candidates)
}

func (o *Orchestrator) trackBegin(tier string) {
	if o.tracker != nil {
		o.tracker.Begin(tier)
	}
}

func (o *Orchestrator) trackError(tier string, err error) {
	if o.tracker != nil {
		o.tracker.FlushError(tier, err)
		return
	}
	o.logf("tier %s failed: %v", tier, err)
}

func (o *Orchestrator) trackSuccess(tier, path string) {
	if o.tracker != nil {
		o.tracker.Success(tier, path)
		return
	}
	o.logf("tier %s satisfied v%s-%s: %s", tier, o.cfg.Version, o.cfg.Tag, path)
}

// tierLogf returns the detail sink for one tier's attempt. With a tracker
// present, lines are buffered under the tier's name and replayed only when the
// tier fails; without one they go straight to the plain logger.
func (o *Orchestrator) tierLogf(tier string) func(string, ...any) {
	if o.tracker == nil {
		return o.logf
	}
	return func(format string, args ...any) {
		o.tracker.Appendf(tier, format, args...)
	}
}

// --- tiers -------------------------------------------------------------

// cacheTier answers from a previously completed cache entry. A miss is an
// ordinary fallthrough; so is an uncreatable cache root.
type cacheTier struct{ o *Orchestrator }

func (t *cacheTier) Name() string { return "cache" }

func (t *cacheTier) Acquire(ctx context.Context) (string, error) {
	if t.o.store.HasArtifact(t.o.cfg.Version, t.o.cfg.Tag) {
		return t.o.store.BinaryPath(t.o.cfg.Version, t.o.cfg.Tag), nil
	}
	return "", fmt.Errorf("no complete entry at %s", t.o.store.EntryPath(t.o.cfg.Version, t.o.cfg.Tag))
}

// prebuiltTier promotes a project-local artifact into the cache so future
// lookups hit the cache tier directly instead of rescanning ./prebuilt.
type prebuiltTier struct{ o *Orchestrator }

func (t *prebuiltTier) Name() string { return "prebuilt" }

func (t *prebuiltTier) Acquire(ctx context.Context) (string, error) {
	loc := prebuilt.New(t.o.cfg.PrebuiltDir)
	binary, ok := loc.Find(t.o.cfg.Tag)
	if !ok {
		return "", fmt.Errorf("no %s in %s", arch.BinaryName(t.o.cfg.Tag), loc.Dir)
	}
	return t.o.store.WriteArtifact(t.o.cfg.Version, t.o.cfg.Tag, binary, loc.Headers())
}

// downloadTier fetches the release artifact for the resolved architecture.
type downloadTier struct{ o *Orchestrator }

func (t *downloadTier) Name() string { return "download" }

func (t *downloadTier) Acquire(ctx context.Context) (string, error) {
	f := &fetcher.Fetcher{ReleaseBase: t.o.cfg.ReleaseBase, Client: t.o.cfg.Client, Logf: t.o.tierLogf(t.Name())}
	return f.Fetch(ctx, t.o.store, t.o.cfg.Version, t.o.cfg.Tag)
}

// compileTier is the expensive last resort: a full source build.
type compileTier struct{ o *Orchestrator }

func (t *compileTier) Name() string { return "compile" }

func (t *compileTier) Acquire(ctx context.Context) (string, error) {
	b := &sourcebuild.Builder{Runner: t.o.cfg.Runner, Logf: t.o.tierLogf(t.Name())}
	return b.Build(ctx, t.o.store, t.o.cfg.Version, t.o.cfg.Tag)
}
