package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docupipe/contractscan/constants"
	"github.com/docupipe/contractscan/internal/cache"
	"github.com/docupipe/contractscan/internal/config"
	"github.com/docupipe/contractscan/internal/contract"
	"github.com/docupipe/contractscan/internal/extract"
	"github.com/docupipe/contractscan/internal/llm"
	"github.com/docupipe/contractscan/internal/pdftool"
	"github.com/docupipe/contractscan/internal/quality"
	"github.com/docupipe/contractscan/internal/repository"
	"github.com/docupipe/contractscan/internal/rules"
	"github.com/docupipe/contractscan/internal/validate"
)

// fakeRunner simulates the PDF tooling for a clean digital document.
type fakeRunner struct{}

func (fakeRunner) Run(_ context.Context, name string, _ ...string) ([]byte, []byte, error) {
	switch name {
	case "pdfinfo":
		return []byte("Pages:          2\nEncrypted:      no\nPage rot:       0\n"), nil, nil
	case "pdftotext":
		return []byte(strings.Repeat("Master services agreement text. ", 30)), nil, nil
	default:
		return nil, nil, fmt.Errorf("%s unavailable", name)
	}
}

const goodFieldsJSON = `{
	"party": "Acme Corporation",
	"contract_name": "Master Service Agreement",
	"contract_type": "NDA",
	"address": "12 Harbor Road, Dublin",
	"country": "Ireland",
	"signed_date": "2024-01-15",
	"start_date": "2024-02-01",
	"end_date": "2025-01-31",
	"signature_status": "Fully Signed",
	"confidence": 0.9
}`

// fakeFields scripts the inference layer: per-file failures plus a
// queue of transient errors consumed before the first success.
type fakeFields struct {
	mu        sync.Mutex
	calls     int
	failFiles map[string]error
	transient []error
	lastReq   llm.ExtractRequest
}

func (f *fakeFields) ExtractFields(_ context.Context, req llm.ExtractRequest) (contract.Fields, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	if err, ok := f.failFiles[req.FilenameHint]; ok {
		return contract.Fields{}, nil, err
	}
	if len(f.transient) > 0 {
		err := f.transient[0]
		f.transient = f.transient[1:]
		return contract.Fields{}, nil, err
	}
	raw := []byte(goodFieldsJSON)
	fields, err := llm.DecodeFields(raw)
	return fields, raw, err
}

func (f *fakeFields) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFields) lastRequest() llm.ExtractRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

type testRig struct {
	orch *Orchestrator
	docs *repository.DocumentStore
	llm  *fakeFields
}

func newTestRig(t *testing.T, fake *fakeFields) *testRig {
	return buildRig(t, fake, fakeRunner{}, config.LLMConfig{MaxRetries: 2})
}

func buildRig(t *testing.T, fake *fakeFields, runner pdftool.Runner, llmCfg config.LLMConfig) *testRig {
	t.Helper()

	db, sb, err := repository.Open(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "pipeline.db"),
		MaxConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repository.Bootstrap(context.Background(), db))
	docs := repository.NewDocumentStore(db, sb, nil)

	qcfg := config.QualityConfig{
		MinDPI:             150,
		OptimalDPI:         150,
		ScannedTextDensity: 200,
		LowTextDensity:     100,
		MaxFileSizeMB:      50,
		MaxPages:           100,
		StandardScore:      70,
		VisionScore:        40,
	}
	ocfg := config.OCRConfig{
		Pdftotext: "pdftotext", Pdftoppm: "pdftoppm",
		Pdfinfo: "pdfinfo", Tesseract: "tesseract",
		Languages: "eng", DPI: 300, PSM: 6,
		ArtifactCacheDir: t.TempDir(),
	}
	store := cache.NewStore(time.Hour, 128, nil)

	orch := NewOrchestrator(
		config.PipelineConfig{Workers: 2, BatchSize: 2, DocTimeout: 30 * time.Second},
		llmCfg,
		Deps{
			Assessor:  quality.NewAssessor(qcfg, ocfg, runner, nil),
			Extractor: extract.NewTextExtractor(ocfg, qcfg, runner, store, nil),
			Fields:    fake,
			Rules:     rules.NewEngine(config.RulesConfig{MatchThreshold: 0.8}, nil, nil),
			Validator: validate.NewValidator(config.ValidationConfig{
				ReviewThreshold:    50,
				WarningReviewCount: 5,
				CriticalPenalty:    5,
				WarningPenalty:     2,
				OCRQualityFloor:    60,
				ModelConfFloor:     0.5,
			}, nil),
			Documents: docs,
			Cache:     store,
			Variant:   "baseline",
		},
	)
	return &testRig{orch: orch, docs: docs, llm: fake}
}

func writePDF(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProcessBatchHappyPath(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writePDF(t, dir, "a.pdf", "%PDF-1.4 alpha"),
		writePDF(t, dir, "b.pdf", "%PDF-1.4 bravo"),
		writePDF(t, dir, "c.pdf", "%PDF-1.4 charlie"),
	}
	rig := newTestRig(t, &fakeFields{})

	summary, err := rig.orch.ProcessBatch(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Completed)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Skipped)
	require.Len(t, summary.Results, 3)
	for i, res := range summary.Results {
		assert.Equal(t, files[i], res.Path, "results keep input order")
		assert.Equal(t, constants.DocStatusCompleted, res.Status)
		assert.Equal(t, extract.SourceNative, res.Source)
		assert.Greater(t, res.Confidence, 50.0)
	}

	hash, err := cache.HashFile(files[0])
	require.NoError(t, err)
	doc, err := rig.docs.GetByHash(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, constants.DocStatusCompleted, doc.Status)
	assert.Equal(t, "baseline", doc.PromptVariant)
	assert.Contains(t, doc.FieldsJSON, "Acme Corporation")
	assert.True(t, doc.ProcessedAt.Valid)
}

// scanRunner simulates a barely legible scanned document: no text
// layer, low effective resolution, rotated pages, too many pages.
type scanRunner struct{}

func (scanRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	switch name {
	case "pdfinfo":
		return []byte("Pages:          300\nEncrypted:      no\nPage rot:       90\n"), nil, nil
	case "pdftotext":
		return nil, nil, nil
	case "pdftoppm":
		prefix := args[len(args)-1]
		var buf bytes.Buffer
		if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 10, 10))); err != nil {
			return nil, nil, err
		}
		if err := os.WriteFile(prefix+"-1.png", buf.Bytes(), 0o644); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	case "tesseract":
		return []byte("Master services agreement, barely legible scan."), nil, nil
	}
	return nil, nil, fmt.Errorf("%s unavailable", name)
}

func TestVisionStrategyAttachesPageImages(t *testing.T) {
	dir := t.TempDir()
	file := writePDF(t, dir, "scan.pdf", "%PDF-1.4 scan")
	fake := &fakeFields{}
	rig := buildRig(t, fake, scanRunner{}, config.LLMConfig{MaxRetries: 2, UseVision: true})

	summary, err := rig.orch.ProcessBatch(context.Background(), []string{file})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Completed)
	assert.Equal(t, quality.StrategyVisionModel, summary.Results[0].Strategy)

	req := fake.lastRequest()
	assert.True(t, req.Scanned)
	require.Len(t, req.Images, 1)
	assert.True(t, strings.HasPrefix(req.Images[0], "data:image/png;base64,"))
}

func TestVisionDisabledSendsNoImages(t *testing.T) {
	dir := t.TempDir()
	file := writePDF(t, dir, "scan.pdf", "%PDF-1.4 scan")
	fake := &fakeFields{}
	rig := buildRig(t, fake, scanRunner{}, config.LLMConfig{MaxRetries: 2})

	summary, err := rig.orch.ProcessBatch(context.Background(), []string{file})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Completed)
	assert.Empty(t, fake.lastRequest().Images)
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	good := writePDF(t, dir, "good.pdf", "%PDF-1.4 good")
	bad := writePDF(t, dir, "bad.pdf", "%PDF-1.4 bad")
	fake := &fakeFields{failFiles: map[string]error{
		"bad.pdf": fmt.Errorf("recover model output: %w", llm.ErrMalformed),
	}}
	rig := newTestRig(t, fake)

	summary, err := rig.orch.ProcessBatch(context.Background(), []string{good, bad})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, constants.DocStatusFailed, summary.Results[1].Status)
	assert.Error(t, summary.Results[1].Err)

	hash, err := cache.HashFile(bad)
	require.NoError(t, err)
	doc, err := rig.docs.GetByHash(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, constants.DocStatusFailed, doc.Status)
	assert.Equal(t, "{}", doc.FieldsJSON, "failures never persist partial fields")
	assert.NotEmpty(t, doc.Error)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	dir := t.TempDir()
	file := writePDF(t, dir, "a.pdf", "%PDF-1.4 alpha")
	fake := &fakeFields{transient: []error{fmt.Errorf("chat: %w", llm.ErrTimeout)}}
	rig := newTestRig(t, fake)

	summary, err := rig.orch.ProcessBatch(context.Background(), []string{file})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 2, fake.callCount(), "one transient failure, one retry")
}

func TestMalformedIsNotRetried(t *testing.T) {
	dir := t.TempDir()
	file := writePDF(t, dir, "a.pdf", "%PDF-1.4 alpha")
	fake := &fakeFields{failFiles: map[string]error{
		"a.pdf": fmt.Errorf("recover model output: %w", llm.ErrMalformed),
	}}
	rig := newTestRig(t, fake)

	summary, err := rig.orch.ProcessBatch(context.Background(), []string{file})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, fake.callCount())
}

func TestCancelledBatchSkipsUndispatched(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writePDF(t, dir, "a.pdf", "%PDF-1.4 alpha"),
		writePDF(t, dir, "b.pdf", "%PDF-1.4 bravo"),
	}
	rig := newTestRig(t, &fakeFields{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := rig.orch.ProcessBatch(ctx, files)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Skipped)
	assert.Zero(t, summary.Completed)
	for _, res := range summary.Results {
		assert.Equal(t, constants.DocStatusQueued, res.Status)
		assert.Error(t, res.Err)
	}
}

func TestInferenceCachedAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	file := writePDF(t, dir, "a.pdf", "%PDF-1.4 alpha")
	fake := &fakeFields{}
	rig := newTestRig(t, fake)

	for i := 0; i < 2; i++ {
		summary, err := rig.orch.ProcessBatch(context.Background(), []string{file})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Completed)
	}
	assert.Equal(t, 1, fake.callCount(), "identical content and prompt reuse the cached result")
}

func TestRunChunksBatches(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		writePDF(t, dir, name, "%PDF-1.4 "+name)
	}
	rig := newTestRig(t, &fakeFields{})

	summary, err := rig.orch.Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Completed)
	assert.Len(t, summary.Results, 3)
}

func TestRunEmptyDir(t *testing.T) {
	rig := newTestRig(t, &fakeFields{})
	_, err := rig.orch.Run(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoFiles)
}
