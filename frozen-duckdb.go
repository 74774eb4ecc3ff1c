// frozen-duckdb guarantees a working engine binary and headers exist at a
// known location without compiling the engine on every build. The ensure
// subcommand walks four acquisition tiers (cache, local prebuilt, release
// download, source compile) and the remaining subcommands exercise the
// acquired engine: dataset generation/conversion and Flock LLM operations.
//
// All environment reading happens here at the entry point; every package
// underneath takes explicit configuration.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"frozen-duckdb/pkg/acqlog"
	"frozen-duckdb/pkg/acquire"
	"frozen-duckdb/pkg/arch"
	"frozen-duckdb/pkg/dataset"
	"frozen-duckdb/pkg/envsetup"
	"frozen-duckdb/pkg/flock"
)

// Exit codes mirror the original tool's contract with CI pipelines.
const (
	exitGeneral          = 1
	exitEnvNotConfigured = 2
	exitFlockUnavailable = 4
)

func usage() {
	fmt.Fprintf(os.Stderr, `frozen-duckdb: prebuilt DuckDB binary manager

Usage: frozen-duckdb <command> [flags]

Commands:
  ensure       acquire the engine binary (cache → prebuilt → download → compile)
  info         show configuration, architecture, and cache state
  env          print shell exports for dependent builds
  download     generate a sample dataset (chinook, tpch)
  convert      convert a data file between csv and parquet
  flock-setup  register Ollama models for LLM operations
  complete     generate a text completion
  embed        generate embeddings (JSON output)
  filter       classify lines of a file against criteria
  summarize    summarize a file's contents

Run 'frozen-duckdb <command> -h' for command flags.
`)
}

func main() {
	// Optional .env next to the invocation; absence is not an error.
	_ = godotenv.Load()

	args := os.Args[1:]
	cmd := "ensure"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "ensure":
		err = runEnsure(args)
	case "info":
		err = runInfo(args)
	case "env":
		err = runEnv(args)
	case "download":
		err = runDownload(args)
	case "convert":
		err = runConvert(args)
	case "flock-setup":
		err = runFlockSetup(args)
	case "complete":
		err = runComplete(args)
	case "embed":
		err = runEmbed(args)
	case "filter":
		err = runFilter(args)
	case "summarize":
		err = runSummarize(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(exitGeneral)
	}

	if err != nil {
		log.Printf("error: %v", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitError carries the process exit code alongside the underlying error.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }
func (e exitError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var ee exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitGeneral
}

// baseConfig assembles the orchestrator configuration from flags and the
// environment snapshot. ARCH overrides detection; a preconfigured
// DUCKDB_LIB_DIR/DUCKDB_INCLUDE_DIR pair short-circuits acquisition.
func baseConfig(fs *flag.FlagSet, args []string) (acquire.Config, error) {
	archOverride := fs.String("arch", os.Getenv("ARCH"), "architecture tag override (x86_64, arm64)")
	cacheRoot := fs.String("cache-root", "", "cache root (default ~/.frozen-duckdb/cache)")
	prebuiltDir := fs.String("prebuilt-dir", "", "project-local prebuilt directory (default ./prebuilt)")
	releaseBase := fs.String("release-base", "", "release host override, mainly for tests")
	if err := fs.Parse(args); err != nil {
		return acquire.Config{}, err
	}

	cfg := acquire.Config{
		Tag:         arch.Resolve(*archOverride),
		CacheRoot:   *cacheRoot,
		PrebuiltDir: *prebuiltDir,
		ReleaseBase: *releaseBase,
		Logf:        log.Printf,
	}
	if pair, ok := envsetup.FromEnviron(os.Environ()); ok {
		cfg.LibDir = pair.LibDir
		cfg.IncludeDir = pair.IncludeDir
	}
	return cfg, nil
}

func runEnsure(args []string) error {
	fs := flag.NewFlagSet("ensure", flag.ExitOnError)
	cfg, err := baseConfig(fs, args)
	if err != nil {
		return err
	}

	if !arch.IsSupported(cfg.Tag) {
		log.Printf("architecture %s has no optimized binary; using the generic fallback name", cfg.Tag)
	}

	tracker := acqlog.New(log.Printf)
	defer tracker.Close()
	cfg.Tracker = tracker

	o, err := acquire.New(cfg)
	if err != nil {
		return err
	}
	path, err := o.EnsureBinary(context.Background())
	if err != nil {
		return err
	}

	// Drop an export script next to cache-resident artifacts so dependent
	// builds have one predictable path to source.
	entryDir := filepath.Dir(path)
	if underDir(o.Store().Root, path) {
		if _, err := envsetup.WriteExportScript(entryDir); err != nil {
			log.Printf("could not write export script: %v", err)
		}
	}

	fmt.Println(path)
	return nil
}

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	cfg, err := baseConfig(fs, args)
	if err != nil {
		return err
	}
	o, err := acquire.New(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("frozen-duckdb\n")
	fmt.Printf("  Engine version: %s\n", acquire.EngineVersion)
	fmt.Printf("  Architecture:   %s (supported: %v)\n", cfg.Tag, arch.IsSupported(cfg.Tag))
	fmt.Printf("  Artifact name:  %s\n", arch.BinaryName(cfg.Tag))
	fmt.Printf("  Cache entry:    %s\n", o.Store().EntryPath(acquire.EngineVersion, cfg.Tag))
	fmt.Printf("  Cached:         %v\n", o.Store().HasArtifact(acquire.EngineVersion, cfg.Tag))

	if pair, ok := envsetup.FromEnviron(os.Environ()); ok {
		fmt.Printf("  %s: %s\n", envsetup.LibDirVar, pair.LibDir)
		fmt.Printf("  %s: %s\n", envsetup.IncludeDirVar, pair.IncludeDir)
	}

	// Extension listing needs a live engine; degrade gracefully without one.
	if m, err := dataset.New(); err == nil {
		defer m.Close()
		if exts, err := m.Extensions(); err == nil {
			fmt.Printf("  Extensions:     %s\n", strings.Join(exts, ", "))
		}
	}
	return nil
}

func runEnv(args []string) error {
	fs := flag.NewFlagSet("env", flag.ExitOnError)
	cfg, err := baseConfig(fs, args)
	if err != nil {
		return err
	}

	if pair, ok := envsetup.FromEnviron(os.Environ()); ok {
		if err := pair.ValidateBinary(); err != nil {
			return exitError{exitEnvNotConfigured, err}
		}
		fmt.Print(envsetup.ExportScript(pair.LibDir))
		return nil
	}

	o, err := acquire.New(cfg)
	if err != nil {
		return err
	}
	if !o.Store().HasArtifact(acquire.EngineVersion, cfg.Tag) {
		return exitError{exitEnvNotConfigured,
			fmt.Errorf("no cached artifact for v%s-%s; run 'frozen-duckdb ensure' first", acquire.EngineVersion, cfg.Tag)}
	}
	fmt.Print(envsetup.ExportScript(o.Store().EntryPath(acquire.EngineVersion, cfg.Tag)))
	return nil
}

func runDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	name := fs.String("dataset", "", "dataset to generate: chinook or tpch")
	outputDir := fs.String("output-dir", "datasets", "output directory")
	format := fs.String("format", "csv", "output format")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := dataset.New()
	if err != nil {
		return err
	}
	defer m.Close()
	m.Logf = log.Printf

	switch *name {
	case "chinook":
		return m.GenerateChinook(*outputDir, *format)
	case "tpch":
		return m.GenerateTPCH(*outputDir, *format)
	default:
		return fmt.Errorf("unknown dataset %q (available: chinook, tpch)", *name)
	}
}

func runConvert(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	input := fs.String("input", "", "input file")
	output := fs.String("output", "", "output file")
	inputFormat := fs.String("input-format", "", "input format (csv, parquet)")
	outputFormat := fs.String("output-format", "", "output format (csv, parquet)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" || *output == "" {
		return fmt.Errorf("convert requires -input and -output")
	}

	m, err := dataset.New()
	if err != nil {
		return err
	}
	defer m.Close()
	m.Logf = log.Printf

	return m.Convert(*input, *output, *inputFormat, *outputFormat)
}

// flockManager opens the LLM surface and maps unavailability to exit code 4.
func flockManager() (*flock.Manager, error) {
	m, err := flock.New()
	if err != nil {
		return nil, exitError{exitFlockUnavailable, err}
	}
	if !m.Ready() {
		m.Close()
		return nil, exitError{exitFlockUnavailable,
			fmt.Errorf("flock extension not available; run 'frozen-duckdb flock-setup' first")}
	}
	m.Logf = log.Printf
	return m, nil
}

func runFlockSetup(args []string) error {
	fs := flag.NewFlagSet("flock-setup", flag.ExitOnError)
	url := fs.String("ollama-url", flock.DefaultOllamaURL, "Ollama server URL")
	textModel := fs.String("text-model", flock.DefaultTextModel, "model for text generation")
	embeddingModel := fs.String("embedding-model", flock.DefaultEmbeddingModel, "model for embeddings")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := flockManager()
	if err != nil {
		return err
	}
	defer m.Close()
	return m.SetupOllama(*url, *textModel, *embeddingModel)
}

func runComplete(args []string) error {
	fs := flag.NewFlagSet("complete", flag.ExitOnError)
	prompt := fs.String("prompt", "", "text prompt")
	input := fs.String("input", "", "read the prompt from a file instead")
	output := fs.String("output", "", "write the response to a file instead of stdout")
	model := fs.String("model", "", "model alias override")
	if err := fs.Parse(args); err != nil {
		return err
	}

	text := *prompt
	if text == "" && *input != "" {
		data, err := os.ReadFile(*input)
		if err != nil {
			return fmt.Errorf("reading prompt file: %w", err)
		}
		text = strings.TrimSpace(string(data))
	}
	if text == "" {
		return fmt.Errorf("complete requires -prompt or -input")
	}

	m, err := flockManager()
	if err != nil {
		return err
	}
	defer m.Close()

	response, err := m.CompleteText(text, *model)
	if err != nil {
		return err
	}
	return emit(*output, response)
}

func runEmbed(args []string) error {
	fs := flag.NewFlagSet("embed", flag.ExitOnError)
	text := fs.String("text", "", "single text to embed")
	input := fs.String("input", "", "file with one text per line")
	output := fs.String("output", "", "write JSON embeddings to a file")
	model := fs.String("model", "", "model alias override")
	if err := fs.Parse(args); err != nil {
		return err
	}

	texts, err := gatherLines(*text, *input)
	if err != nil {
		return err
	}

	m, err := flockManager()
	if err != nil {
		return err
	}
	defer m.Close()

	embeddings, err := m.GenerateEmbeddings(texts, *model)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(embeddings, "", "  ")
	if err != nil {
		return err
	}
	return emit(*output, string(data))
}

func runFilter(args []string) error {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	criteria := fs.String("criteria", "", "classification criteria")
	input := fs.String("input", "", "file with one item per line")
	output := fs.String("output", "", "write JSON results to a file")
	model := fs.String("model", "", "model alias override")
	positiveOnly := fs.Bool("positive-only", false, "print only matching items")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *criteria == "" || *input == "" {
		return fmt.Errorf("filter requires -criteria and -input")
	}

	items, err := gatherLines("", *input)
	if err != nil {
		return err
	}

	m, err := flockManager()
	if err != nil {
		return err
	}
	defer m.Close()

	results, err := m.Filter(*criteria, items, *model)
	if err != nil {
		return err
	}

	if *output != "" {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		return emit(*output, string(data))
	}
	for _, r := range results {
		if *positiveOnly {
			if r.Matches {
				fmt.Println(r.Item)
			}
			continue
		}
		status := "NO MATCH"
		if r.Matches {
			status = "MATCH"
		}
		fmt.Printf("%s: %s\n", status, r.Item)
	}
	return nil
}

func runSummarize(args []string) error {
	fs := flag.NewFlagSet("summarize", flag.ExitOnError)
	input := fs.String("input", "", "file (one text per line) or directory of .txt files")
	output := fs.String("output", "", "write the summary to a file")
	maxWords := fs.Int("max-words", 100, "maximum summary length in words")
	model := fs.String("model", "", "model alias override")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		return fmt.Errorf("summarize requires -input")
	}

	texts, err := gatherTexts(*input)
	if err != nil {
		return err
	}

	m, err := flockManager()
	if err != nil {
		return err
	}
	defer m.Close()

	summary, err := m.Summarize(texts, *maxWords, *model)
	if err != nil {
		return err
	}
	return emit(*output, summary)
}

// gatherLines returns either the single text or the non-empty lines of file.
func gatherLines(text, file string) ([]string, error) {
	if text != "" {
		return []string{text}, nil
	}
	if file == "" {
		return nil, fmt.Errorf("provide -text or -input")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}
	var lines []string
	for _, ln := range strings.Split(string(data), "\n") {
		if s := strings.TrimSpace(ln); s != "" {
			lines = append(lines, s)
		}
	}
	return lines, nil
}

// gatherTexts reads one file (line per text) or every .txt in a directory.
func gatherTexts(input string) ([]string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", input, err)
	}
	if !info.IsDir() {
		return gatherLines("", input)
	}

	entries, err := os.ReadDir(input)
	if err != nil {
		return nil, err
	}
	var texts []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".txt" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(input, e.Name()))
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			texts = append(texts, s)
		}
	}
	return texts, nil
}

// underDir reports whether path sits inside dir. A plain prefix comparison is
// wrong here: /home/u/cache2 starts with /home/u/cache but is not inside it.
func underDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func emit(output, content string) error {
	if output == "" {
		fmt.Println(content)
		return nil
	}
	if err := os.WriteFile(output, []byte(content+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}
	log.Printf("written to %s", output)
	return nil
}
