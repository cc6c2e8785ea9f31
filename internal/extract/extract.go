package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docupipe/contractscan/internal/cache"
	"github.com/docupipe/contractscan/internal/config"
	"github.com/docupipe/contractscan/internal/pdftool"
	"github.com/docupipe/contractscan/internal/quality"
)

// Source records which path produced the text.
type Source string

const (
	SourceNative Source = "native" // pdftotext embedded text layer
	SourceOCR    Source = "ocr"    // rasterize + tesseract
)

// Result is the outcome of text extraction for one document.
type Result struct {
	Text       string
	Pages      int
	Source     Source
	Corruption Corruption // CorruptionNone when the file was healthy
	Duration   time.Duration
	Warnings   []string
}

// TextExtractor turns a PDF into plain text, preferring the embedded
// text layer and falling back to OCR when the layer is absent or too
// sparse to trust.
type TextExtractor struct {
	ocr     config.OCRConfig
	quality config.QualityConfig
	runner  pdftool.Runner
	store   *cache.Store
	logger  *slog.Logger
}

func NewTextExtractor(ocr config.OCRConfig, q config.QualityConfig, runner pdftool.Runner, store *cache.Store, logger *slog.Logger) *TextExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = pdftool.ExecRunner{}
	}
	return &TextExtractor{ocr: ocr, quality: q, runner: runner, store: store, logger: logger}
}

// Extract produces text for path. rep drives the native-vs-OCR decision
// and the OCR preprocessing intensity; hashHex keys the cache.
func (t *TextExtractor) Extract(ctx context.Context, path, hashHex string, rep quality.Report) (Result, error) {
	start := time.Now()
	res := Result{Pages: rep.PageCount}

	if rep.Scanned || rep.Strategy != quality.StrategyStandard {
		text, err := t.ocrDocument(ctx, path, hashHex, rep)
		if err != nil {
			res.Corruption = classifyFailure(err)
			res.Duration = time.Since(start)
			return res, err
		}
		res.Text = text
		res.Source = SourceOCR
		res.Duration = time.Since(start)
		return res, nil
	}

	text, stderr, err := t.nativeText(ctx, path, hashHex)
	if err != nil {
		res.Corruption = classifyStderr(stderr)
		if res.Corruption == CorruptionNone {
			res.Corruption = classifyFailure(err)
		}
		// Some corruption classes only break the text layer; the raster
		// path can still work.
		if res.Corruption.Recoverable() {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("native extraction failed (%s), retrying via OCR", res.Corruption))
			text, ocrErr := t.ocrDocument(ctx, path, hashHex, rep)
			if ocrErr == nil {
				res.Text = text
				res.Source = SourceOCR
				res.Duration = time.Since(start)
				return res, nil
			}
		}
		res.Duration = time.Since(start)
		return res, fmt.Errorf("extract text: %w", err)
	}

	density := pageDensity(text, rep.PageCount)
	if density < t.quality.ScannedTextDensity {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("text layer too sparse (%.1f chars/page), falling back to OCR", density))
		ocrText, ocrErr := t.ocrDocument(ctx, path, hashHex, rep)
		if ocrErr == nil && len(ocrText) > len(text) {
			res.Text = ocrText
			res.Source = SourceOCR
			res.Duration = time.Since(start)
			return res, nil
		}
	}

	res.Text = text
	res.Source = SourceNative
	res.Duration = time.Since(start)
	return res, nil
}

// nativeText runs pdftotext over the whole document, via the cache.
func (t *TextExtractor) nativeText(ctx context.Context, path, hashHex string) (string, []byte, error) {
	var stderr []byte
	key := cache.Key{HashHex: hashHex, Stage: "text:native"}
	out, err := t.store.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		args := []string{"-layout", "-enc", "UTF-8"}
		if t.ocr.MaxPages > 0 {
			args = append(args, "-f", "1", "-l", fmt.Sprintf("%d", t.ocr.MaxPages))
		}
		args = append(args, path, "-")
		stdout, errb, err := t.runner.Run(ctx, t.ocr.Pdftotext, args...)
		stderr = errb
		if err != nil {
			return nil, err
		}
		return stdout, nil
	})
	if err != nil {
		return "", stderr, err
	}
	return string(out), nil, nil
}

func pageDensity(text string, pages int) float64 {
	if pages <= 0 {
		pages = 1
	}
	return float64(len(strings.TrimSpace(text))) / float64(pages)
}
