// Command extract runs entity extraction over document files and
// prints one JSON result per file.
//
// Usage:
//
//	go run -tags sqlite_fts5 ./cmd/extract \
//	  --config ./config.yaml \
//	  --relationships \
//	  --workers 4 \
//	  ./contracts/*.pdf
//
// Force a strategy and pretty-print:
//
//	go run -tags sqlite_fts5 ./cmd/extract \
//	  --force-strategy single_pass --pretty agreement.docx
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	extraction "github.com/brianjwalters/entity-extraction-service-sub000"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Path to config file (YAML or JSON)")
		forceStrategy = flag.String("force-strategy", "", "Force a strategy: single_pass, multi_wave, chunked_multi_wave")
		graphrag      = flag.Bool("graphrag", false, "Enable graph extraction mode (relationships regardless of size)")
		relationships = flag.Bool("relationships", false, "Extract relationships on sufficiently large documents")
		workers       = flag.Int("workers", 2, "Concurrent files")
		outDir        = flag.String("out", "", "Write one <name>.json per file instead of stdout")
		pretty        = flag.Bool("pretty", false, "Indent JSON output")
		quiet         = flag.Bool("quiet", false, "Suppress progress logging")
	)
	flag.Parse()

	_ = godotenv.Load()

	level := slog.LevelInfo
	if *quiet {
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: extract [flags] file...")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if *workers < 1 {
		*workers = 1
	}

	cfg := extraction.DefaultConfig()
	if *configPath != "" {
		loaded, err := extraction.LoadConfig(*configPath)
		if err != nil {
			logger.Error("loading config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.ApplyEnv()

	engine, err := extraction.New(cfg, extraction.WithLogger(logger))
	if err != nil {
		logger.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *outDir != "" {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			logger.Error("creating output directory", "dir", *outDir, "error", err)
			os.Exit(1)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	var outMu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(*workers)

	failed := 0
	var failedMu sync.Mutex

	for _, path := range files {
		g.Go(func() error {
			res, err := engine.ExtractFile(ctx, path, extraction.Request{
				ForceStrategy:        *forceStrategy,
				GraphRAGMode:         *graphrag,
				ExtractRelationships: *relationships,
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Error("extraction failed", "file", path, "error", err)
				failedMu.Lock()
				failed++
				failedMu.Unlock()
				return nil // keep going, other files are independent
			}

			logger.Info("extracted", "file", path,
				"strategy", res.RoutingDecision.Strategy,
				"entities", len(res.Entities),
				"status", res.Status,
			)

			if *outDir != "" {
				return writeResult(*outDir, path, res, *pretty)
			}
			outMu.Lock()
			defer outMu.Unlock()
			return enc.Encode(map[string]any{"file": path, "result": res})
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("aborted", "error", err)
		os.Exit(1)
	}
	if failed > 0 {
		logger.Error("some files failed", "failed", failed, "total", len(files))
		os.Exit(1)
	}
}

// writeResult writes one result as <name>.json next to its siblings in
// the output directory.
func writeResult(dir, inputPath string, res *extraction.Result, pretty bool) error {
	name := filepath.Base(inputPath)
	name = name[:len(name)-len(filepath.Ext(name))] + ".json"

	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res)
}
