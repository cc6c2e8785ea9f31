package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/docupipe/contractscan/internal/cache"
	"github.com/docupipe/contractscan/internal/config"
	"github.com/docupipe/contractscan/internal/export"
	"github.com/docupipe/contractscan/internal/extract"
	"github.com/docupipe/contractscan/internal/feedback"
	"github.com/docupipe/contractscan/internal/llm"
	"github.com/docupipe/contractscan/internal/llm/llamasrv"
	"github.com/docupipe/contractscan/internal/llm/lmstudio"
	"github.com/docupipe/contractscan/internal/llm/ollama"
	"github.com/docupipe/contractscan/internal/pipeline"
	"github.com/docupipe/contractscan/internal/quality"
	"github.com/docupipe/contractscan/internal/repository"
	"github.com/docupipe/contractscan/internal/rules"
	"github.com/docupipe/contractscan/internal/validate"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir       = flag.String("dir", "", "directory (or single PDF) to process (required)")
		cfgPath   = flag.String("config", "", "path to YAML config file")
		out       = flag.String("out", "", "output XLSX path (defaults next to the input directory)")
		variant   = flag.String("variant", "baseline", "prompt variant label for A/B comparison")
		recursive = flag.Bool("recursive", false, "walk nested folders")
		report    = flag.Bool("report", false, "print accuracy and variant reports after the run")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(*dir), "contracts.xlsx")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		printError("Error: load config: %v\n", err)
		os.Exit(1)
	}
	if *recursive {
		cfg.Pipeline.Recursive = true
	}
	if err := cfg.Validate(); err != nil {
		printError("Error: invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := config.InitLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, sb, err := repository.Open(cfg.Database)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	if err := repository.Bootstrap(ctx, db); err != nil {
		logger.Error("failed to bootstrap schema", "error", err)
		os.Exit(1)
	}

	registry, err := rules.LoadRegistry(cfg.Rules.RegistryPath)
	if err != nil {
		logger.Error("failed to load company registry", "error", err)
		os.Exit(1)
	}

	var backend llm.Backend
	switch cfg.LLM.Backend {
	case "ollama":
		backend = ollama.New(cfg.LLM, logger)
	case "llamaserver":
		backend = llamasrv.New(cfg.LLM, logger)
	default:
		backend = lmstudio.New(cfg.LLM, logger)
	}
	logger.Info("inference backend ready", "backend", backend.Name(), "model", cfg.LLM.Model, "batch", backend.SupportsBatch())

	store := cache.NewStore(cfg.Cache.TTL, cfg.Cache.MaxEntries, logger)
	docStore := repository.NewDocumentStore(db, sb, logger)
	fbStore := feedback.NewStore(db, sb, cfg.Feedback, logger)

	orch := pipeline.NewOrchestrator(cfg.Pipeline, cfg.LLM, pipeline.Deps{
		Assessor:    quality.NewAssessor(cfg.Quality, cfg.OCR, nil, logger),
		Extractor:   extract.NewTextExtractor(cfg.OCR, cfg.Quality, nil, store, logger),
		Fields:      llm.NewExtractor(backend, cfg.LLM, logger),
		Rules:       rules.NewEngine(cfg.Rules, registry, logger),
		Validator:   validate.NewValidator(cfg.Validation, logger),
		Documents:   docStore,
		Feedback:    fbStore,
		Cache:       store,
		Logger:      logger,
		Variant:     *variant,
		OwnEntities: registry.OwnEntities,
	})

	if _, err := fbStore.DeactivateStale(ctx); err != nil {
		logger.Warn("failed to retire stale patterns", "error", err)
	}

	summary, err := orch.Run(ctx, *dir)
	if err != nil {
		logger.Error("batch run failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Processed %d documents: %d completed, %d review, %d failed, %d skipped (%.1fs)\n",
		summary.Total, summary.Completed, summary.Review, summary.Failed, summary.Skipped,
		summary.Duration.Seconds())
	for class, n := range summary.Corruption {
		fmt.Printf("  corruption %-20s %d\n", class, n)
	}

	exporter := export.NewService(docStore, logger)
	xlsx, err := exporter.ExportResultsXLSX(context.Background())
	if err != nil {
		logger.Error("export failed", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, xlsx, 0o644); err != nil {
		logger.Error("failed to write workbook", "path", *out, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Results written to %s\n", *out)

	if *report {
		printReports(context.Background(), fbStore)
	}
}

func printReports(ctx context.Context, fb *feedback.Store) {
	if fields, err := fb.Accuracy(ctx); err == nil {
		fmt.Println("\nField accuracy (upper bound; uncorrected errors are invisible):")
		for _, fa := range fields {
			fmt.Printf("  %-18s %6.1f%%  (%d corrections / %d documents)\n",
				fa.FieldName, fa.Accuracy, fa.Corrections, fa.Documents)
		}
	}
	if overall, err := fb.OverallAccuracy(ctx); err == nil {
		fmt.Printf("Overall accuracy: %.1f%%\n", overall)
	}
	if variants, err := fb.VariantReports(ctx); err == nil && len(variants) > 0 {
		fmt.Println("\nPrompt variants by composite score:")
		for _, vr := range variants {
			fmt.Printf("  %-16s score %5.1f  conf %5.1f  corrections %4.1f%%  review %4.1f%%  errors %d  (n=%d)\n",
				vr.Variant, vr.Composite, vr.AvgConfidence, vr.CorrectionRate, vr.ReviewRate, vr.ErrorCount, vr.Documents)
		}
	}
}
