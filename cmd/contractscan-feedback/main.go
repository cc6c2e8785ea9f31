package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/docupipe/contractscan/constants"
	"github.com/docupipe/contractscan/internal/config"
	"github.com/docupipe/contractscan/internal/contract"
	"github.com/docupipe/contractscan/internal/feedback"
	"github.com/docupipe/contractscan/internal/repository"
	"github.com/docupipe/contractscan/internal/rules"
)

// Records a human correction against a processed document and shows the
// hints the feedback loop currently derives from the correction history.
func main() {
	var (
		cfgPath = flag.String("config", "", "path to YAML config file")
		hash    = flag.String("hash", "", "content hash of the corrected document (required)")
		field   = flag.String("field", "", "corrected field name (required)")
		value   = flag.String("value", "", "the correct value (required)")
		by      = flag.String("by", "", "name of the person making the correction")
		reason  = flag.String("reason", "", "optional note on why the extracted value was wrong")
		hints   = flag.Bool("hints", false, "print current adaptive hints and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		os.Exit(1)
	}
	logger := config.InitLogger(cfg.Logging)
	ctx := context.Background()

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

	fb := feedback.NewStore(db, sb, cfg.Feedback, logger)

	if *hints {
		printHints(ctx, fb)
		return
	}

	if *hash == "" || *field == "" || *value == "" {
		fmt.Fprintln(os.Stderr, "Error: --hash, --field and --value are required")
		os.Exit(1)
	}
	if !validField(*field) {
		fmt.Fprintf(os.Stderr, "Error: unknown field %q; valid fields: %s\n",
			*field, strings.Join(constants.FieldNames, ", "))
		os.Exit(1)
	}

	docs := repository.NewDocumentStore(db, sb, logger)
	doc, err := docs.GetByHash(ctx, *hash)
	if err != nil {
		logger.Error("document not found", "hash", *hash, "error", err)
		os.Exit(1)
	}

	var fields contract.Fields
	_ = json.Unmarshal([]byte(doc.FieldsJSON), &fields)
	original := fields.Get(*field)

	registry, err := rules.LoadRegistry(cfg.Rules.RegistryPath)
	if err != nil {
		logger.Error("failed to load company registry", "error", err)
		os.Exit(1)
	}
	ownEntity := *field == "party" && registry.IsOwnEntity(original)

	id, err := fb.RecordCorrection(ctx, feedback.Correction{
		DocumentID:       doc.ID,
		FieldName:        *field,
		OriginalValue:    original,
		CorrectedValue:   *value,
		CorrectedBy:      *by,
		Reason:           *reason,
		ConfidenceBefore: doc.Confidence,
	}, ownEntity)
	if err != nil {
		logger.Error("failed to record correction", "error", err)
		os.Exit(1)
	}
	if err := fb.MarkVariantCorrected(ctx, doc.ID); err != nil {
		logger.Warn("failed to flag variant outcome", "error", err)
	}

	fields.Set(*field, *value)
	updated, err := json.Marshal(fields)
	if err == nil {
		doc.FieldsJSON = string(updated)
		if _, err := docs.Upsert(ctx, doc); err != nil {
			logger.Warn("failed to store corrected fields", "error", err)
		}
	}

	fmt.Printf("Correction %s recorded: %s %q -> %q\n", id, *field, original, *value)
	printHints(ctx, fb)
}

func printHints(ctx context.Context, fb *feedback.Store) {
	hints, err := fb.AdaptiveHints(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load hints: %v\n", err)
		return
	}
	if len(hints) == 0 {
		fmt.Println("No adaptive hints active yet.")
		return
	}
	fmt.Println("Active adaptive hints:")
	for field, list := range hints {
		for _, h := range list {
			fmt.Printf("  [%s] %s\n", field, h)
		}
	}
}

func validField(name string) bool {
	for _, f := range constants.FieldNames {
		if f == name {
			return true
		}
	}
	return false
}
