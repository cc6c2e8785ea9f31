package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/docupipe/contractscan/constants"
	"github.com/docupipe/contractscan/internal/cache"
	"github.com/docupipe/contractscan/internal/config"
	"github.com/docupipe/contractscan/internal/contract"
	"github.com/docupipe/contractscan/internal/extract"
	"github.com/docupipe/contractscan/internal/feedback"
	"github.com/docupipe/contractscan/internal/llm"
	"github.com/docupipe/contractscan/internal/quality"
	"github.com/docupipe/contractscan/internal/repository"
	"github.com/docupipe/contractscan/internal/rules"
	"github.com/docupipe/contractscan/internal/validate"
)

// DocResult is the per-document outcome reported to the batch summary.
type DocResult struct {
	Path        string
	Status      constants.DocStatus
	Confidence  float64
	NeedsReview bool
	Strategy    quality.Strategy
	Source      extract.Source
	Corruption  extract.Corruption
	Err         error
	Duration    time.Duration
}

// BatchSummary aggregates a batch run.
type BatchSummary struct {
	Total      int
	Completed  int
	Review     int
	Failed     int
	Skipped    int // not dispatched because the run was cancelled
	Corruption map[string]int
	Duration   time.Duration
	Results    []DocResult
}

// Orchestrator wires the stages together and drives concurrent batch
// processing.
type Orchestrator struct {
	cfg    config.PipelineConfig
	llmCfg config.LLMConfig

	assessor  *quality.Assessor
	extractor *extract.TextExtractor
	fields    llm.FieldExtractor
	rules     *rules.Engine
	validator *validate.Validator
	docs      *repository.DocumentStore
	fb        *feedback.Store
	store     *cache.Store
	logger    *slog.Logger

	variant     string
	ownEntities []string

	mu        sync.Mutex
	hints     map[string][]string
	processed int
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Assessor    *quality.Assessor
	Extractor   *extract.TextExtractor
	Fields      llm.FieldExtractor
	Rules       *rules.Engine
	Validator   *validate.Validator
	Documents   *repository.DocumentStore
	Feedback    *feedback.Store
	Cache       *cache.Store
	Logger      *slog.Logger
	Variant     string
	OwnEntities []string
}

func NewOrchestrator(cfg config.PipelineConfig, llmCfg config.LLMConfig, deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:         cfg,
		llmCfg:      llmCfg,
		assessor:    deps.Assessor,
		extractor:   deps.Extractor,
		fields:      deps.Fields,
		rules:       deps.Rules,
		validator:   deps.Validator,
		docs:        deps.Documents,
		fb:          deps.Feedback,
		store:       deps.Cache,
		logger:      logger,
		variant:     deps.Variant,
		ownEntities: deps.OwnEntities,
		hints:       map[string][]string{},
	}
}

// ProcessBatch runs the files through the pipeline with a bounded
// worker pool. Cancellation stops dispatching new documents; documents
// already in flight run to completion of their own timeout and their
// outcome is persisted. One document's failure never aborts the batch.
func (o *Orchestrator) ProcessBatch(ctx context.Context, files []string) (*BatchSummary, error) {
	start := time.Now()
	summary := &BatchSummary{
		Total:      len(files),
		Corruption: map[string]int{},
		Results:    make([]DocResult, len(files)),
	}

	o.refreshHints(ctx)

	sem := semaphore.NewWeighted(int64(o.cfg.Workers))
	var g errgroup.Group

	o.logger.Info("pipeline.batch.start",
		"files", len(files),
		"workers", o.cfg.Workers,
		"variant", o.variant,
	)

dispatch:
	for i, path := range files {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Run was cancelled; everything not yet dispatched is skipped.
			for j := i; j < len(files); j++ {
				summary.Results[j] = DocResult{Path: files[j], Status: constants.DocStatusQueued, Err: err}
				summary.Skipped++
			}
			break dispatch
		}
		g.Go(func() error {
			defer sem.Release(1)
			summary.Results[i] = o.processOne(ctx, path)
			o.bumpProcessed(ctx)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range summary.Results {
		switch res.Status {
		case constants.DocStatusCompleted:
			summary.Completed++
		case constants.DocStatusReview:
			summary.Review++
		case constants.DocStatusFailed:
			summary.Failed++
		}
		if res.Corruption != extract.CorruptionNone {
			summary.Corruption[string(res.Corruption)]++
		}
	}
	summary.Duration = time.Since(start)

	o.logger.Info("pipeline.batch.done",
		"total", summary.Total,
		"completed", summary.Completed,
		"review", summary.Review,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"elapsed_ms", summary.Duration.Milliseconds(),
	)
	return summary, nil
}

// processOne runs the full stage sequence for a single document under
// the per-document timeout. Failures are persisted with a reason and
// never with partial fields.
func (o *Orchestrator) processOne(parent context.Context, path string) DocResult {
	start := time.Now()
	res := DocResult{Path: path, Status: constants.DocStatusFailed}

	ctx, cancel := context.WithTimeout(parent, o.cfg.DocTimeout)
	defer cancel()

	hash, err := cache.HashFile(path)
	if err != nil {
		res.Err = err
		o.persistFailure(parent, path, "", res, err)
		return res
	}

	doc := &repository.Document{
		ContentHash:   hash,
		FilePath:      path,
		FileName:      filepath.Base(path),
		Status:        constants.DocStatusRunning,
		PromptVariant: o.variant,
	}
	docID, err := o.docs.Upsert(ctx, doc)
	if err != nil {
		o.logger.Error("pipeline.doc.persist_error", "path", path, "error", err)
	}

	rep := o.assessor.Assess(ctx, path)
	res.Strategy = rep.Strategy

	text, err := o.extractor.Extract(ctx, path, hash, rep)
	res.Corruption = text.Corruption
	if err != nil {
		res.Err = fmt.Errorf("text extraction: %w", err)
		res.Duration = time.Since(start)
		o.persistFailure(parent, path, hash, res, res.Err)
		return res
	}
	res.Source = text.Source

	fields, raw, err := o.extractFields(ctx, hash, path, text, rep)
	if err != nil {
		res.Err = fmt.Errorf("field extraction: %w", err)
		res.Duration = time.Since(start)
		o.persistFailure(parent, path, hash, res, res.Err)
		return res
	}

	ext := contract.NewExtraction(fields)
	o.rules.Apply(ext, path)

	vres := o.validator.Validate(ext, rep)
	res.Confidence = vres.Confidence
	res.NeedsReview = vres.NeedsReview
	res.Status = constants.DocStatusCompleted
	if vres.NeedsReview {
		res.Status = constants.DocStatusReview
	}
	res.Duration = time.Since(start)

	fieldsJSON, err := json.Marshal(ext.Fields)
	if err != nil {
		fieldsJSON = raw
	}

	doc.Status = res.Status
	doc.QualityScore = rep.Score
	doc.Strategy = string(rep.Strategy)
	doc.TextSource = string(text.Source)
	doc.Corruption = string(text.Corruption)
	doc.Confidence = vres.Confidence
	doc.NeedsReview = vres.NeedsReview
	doc.ReviewReasons = strings.Join(vres.ReviewReasons, "; ")
	doc.FieldsJSON = string(fieldsJSON)
	doc.ProcessedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	if _, err := o.docs.Upsert(parent, doc); err != nil {
		o.logger.Error("pipeline.doc.persist_error", "path", path, "error", err)
	}
	if o.fb != nil {
		if err := o.fb.RecordVariantOutcome(parent, o.variant, docID, vres.Confidence, vres.NeedsReview, false); err != nil {
			o.logger.Warn("pipeline.variant_outcome_error", "error", err)
		}
		if !vres.NeedsReview {
			if err := o.fb.RecordFieldSuccesses(parent, extractedFieldNames(ext)); err != nil {
				o.logger.Warn("pipeline.field_success_error", "error", err)
			}
		}
	}

	o.logger.Info("pipeline.doc.done",
		"file", filepath.Base(path),
		"status", res.Status,
		"confidence", vres.Confidence,
		"strategy", rep.Strategy,
		"source", text.Source,
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res
}

// maxVisionPages bounds how many rendered pages ride along on a vision
// request; contracts front-load the fields of interest.
const maxVisionPages = 5

// extractedFieldNames lists the fields the extraction actually filled.
func extractedFieldNames(ext *contract.Extraction) []string {
	var out []string
	for _, name := range constants.FieldNames {
		if strings.TrimSpace(ext.Fields.Get(name)) != "" {
			out = append(out, name)
		}
	}
	return out
}

// extractFields runs the model call with the retry policy: up to
// MaxRetries fresh attempts, but only for timeout and connection
// failures. The raw JSON is cached under the content hash and prompt
// fingerprint so identical reruns skip inference entirely.
func (o *Orchestrator) extractFields(ctx context.Context, hash, path string, text extract.Result, rep quality.Report) (contract.Fields, []byte, error) {
	req := llm.ExtractRequest{
		Text:         text.Text,
		FilenameHint: filepath.Base(path),
		Scanned:      text.Source == extract.SourceOCR,
		OwnEntities:  o.ownEntities,
		Hints:        o.currentHints(),
		Variant:      o.variant,
	}

	if rep.Strategy == quality.StrategyVisionModel && o.llmCfg.UseVision {
		imgs, imgErr := o.extractor.PageImageData(ctx, path, hash, maxVisionPages)
		if imgErr != nil {
			o.logger.Warn("pipeline.vision.images_error", "file", filepath.Base(path), "error", imgErr)
		} else {
			req.Images = imgs
		}
	}

	msgs := llm.BuildMessages(req, llm.BuildContractJSONSchema())
	stage := "llm:" + llm.PromptHash(msgs)
	if len(req.Images) > 0 {
		stage = "llm:vision:" + llm.PromptHash(msgs)
	}
	key := cache.Key{HashHex: hash, Stage: stage}

	raw, err := o.store.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		var lastErr error
		for attempt := 0; attempt <= o.llmCfg.MaxRetries; attempt++ {
			if attempt > 0 {
				o.logger.Warn("pipeline.llm.retry", "file", filepath.Base(path), "attempt", attempt, "error", lastErr)
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(attempt) * time.Second):
				}
			}
			_, raw, err := o.fields.ExtractFields(ctx, req)
			if err == nil {
				return raw, nil
			}
			lastErr = err
			if !llm.Retryable(err) {
				break
			}
		}
		return nil, lastErr
	})
	if err != nil {
		return contract.Fields{}, nil, err
	}

	fields, err := llm.DecodeFields(raw)
	return fields, raw, err
}

func (o *Orchestrator) persistFailure(ctx context.Context, path, hash string, res DocResult, cause error) {
	o.logger.Error("pipeline.doc.failed",
		"file", filepath.Base(path),
		"corruption", res.Corruption,
		"error", cause,
	)
	if hash == "" {
		return
	}
	doc := &repository.Document{
		ContentHash:   hash,
		FilePath:      path,
		FileName:      filepath.Base(path),
		Status:        constants.DocStatusFailed,
		Corruption:    string(res.Corruption),
		Strategy:      string(res.Strategy),
		PromptVariant: o.variant,
		Error:         cause.Error(),
		FieldsJSON:    "{}",
	}
	docID, err := o.docs.Upsert(ctx, doc)
	if err != nil {
		o.logger.Error("pipeline.doc.persist_error", "path", path, "error", err)
		return
	}
	if o.fb != nil {
		if err := o.fb.RecordVariantOutcome(ctx, o.variant, docID, 0, false, true); err != nil {
			o.logger.Warn("pipeline.variant_outcome_error", "error", err)
		}
	}
}

// refreshHints reloads the adaptive hints from the feedback store.
// Failures degrade to the previous hint set; extraction never blocks on
// the feedback loop.
func (o *Orchestrator) refreshHints(ctx context.Context) {
	if o.fb == nil {
		return
	}
	hints, err := o.fb.AdaptiveHints(ctx)
	if err != nil {
		o.logger.Warn("pipeline.hints.refresh_error", "error", err)
		return
	}
	o.mu.Lock()
	o.hints = hints
	o.mu.Unlock()
	if len(hints) > 0 {
		o.logger.Info("pipeline.hints.refreshed", "fields", len(hints))
	}
}

func (o *Orchestrator) currentHints() map[string][]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string][]string, len(o.hints))
	for k, v := range o.hints {
		out[k] = v
	}
	return out
}

// bumpProcessed counts finished documents and re-derives hints every
// HintRefresh documents mid-batch.
func (o *Orchestrator) bumpProcessed(ctx context.Context) {
	if o.cfg.HintRefresh <= 0 {
		return
	}
	o.mu.Lock()
	o.processed++
	due := o.processed%o.cfg.HintRefresh == 0
	o.mu.Unlock()
	if due && ctx.Err() == nil {
		o.refreshHints(ctx)
	}
}

// ErrNoFiles is returned when discovery finds nothing to process.
var ErrNoFiles = errors.New("no processable files found")

// Run discovers files under root and processes them in batches of the
// configured size.
func (o *Orchestrator) Run(ctx context.Context, root string) (*BatchSummary, error) {
	files, err := DiscoverFiles(root, o.cfg.Recursive)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	total := &BatchSummary{Corruption: map[string]int{}}
	for len(files) > 0 {
		n := o.cfg.BatchSize
		if n > len(files) {
			n = len(files)
		}
		batch, rest := files[:n], files[n:]
		files = rest

		summary, err := o.ProcessBatch(ctx, batch)
		if err != nil {
			return total, err
		}
		total.Total += summary.Total
		total.Completed += summary.Completed
		total.Review += summary.Review
		total.Failed += summary.Failed
		total.Skipped += summary.Skipped
		total.Duration += summary.Duration
		total.Results = append(total.Results, summary.Results...)
		for k, v := range summary.Corruption {
			total.Corruption[k] += v
		}

		if ctx.Err() != nil {
			break
		}
	}
	return total, nil
}
