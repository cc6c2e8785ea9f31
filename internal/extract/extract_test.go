package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docupipe/contractscan/internal/cache"
	"github.com/docupipe/contractscan/internal/config"
	"github.com/docupipe/contractscan/internal/quality"
)

// fakeRunner scripts the external tools: pdftotext returns canned text,
// pdftoppm materializes page images, tesseract echoes per-page text.
type fakeRunner struct {
	nativeText string
	nativeErr  error
	nativeErrb []byte
	renderErr  error
	pages      int
	pageText   func(page int) string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	switch name {
	case "pdftotext":
		return []byte(f.nativeText), f.nativeErrb, f.nativeErr
	case "pdftoppm":
		if f.renderErr != nil {
			return nil, []byte("render failed"), f.renderErr
		}
		prefix := args[len(args)-1]
		for i := 1; i <= f.pages; i++ {
			path := fmt.Sprintf("%s-%02d.png", prefix, i)
			if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	case "tesseract":
		img := args[0]
		base := strings.TrimSuffix(filepath.Base(img), ".png")
		n := 0
		_, _ = fmt.Sscanf(base[strings.LastIndex(base, "-")+1:], "%d", &n)
		return []byte(f.pageText(n)), nil, nil
	}
	return nil, nil, errors.New("unexpected command " + name)
}

func newExtractor(t *testing.T, runner *fakeRunner) *TextExtractor {
	t.Helper()
	ocr := config.OCRConfig{
		Pdftotext:        "pdftotext",
		Pdftoppm:         "pdftoppm",
		Tesseract:        "tesseract",
		Languages:        "eng",
		DPI:              300,
		PSM:              6,
		ArtifactCacheDir: t.TempDir(),
	}
	q := config.QualityConfig{ScannedTextDensity: 100}
	store := cache.NewStore(time.Minute, 64, nil)
	return NewTextExtractor(ocr, q, runner, store, nil)
}

func tempPDF(t *testing.T, content string) (path, hash string) {
	t.Helper()
	path = filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	h, err := cache.HashFile(path)
	require.NoError(t, err)
	return path, h
}

func TestExtractNativeText(t *testing.T) {
	runner := &fakeRunner{nativeText: strings.Repeat("contract text ", 200)}
	ex := newExtractor(t, runner)
	path, hash := tempPDF(t, "digital")

	rep := quality.Report{PageCount: 2, Strategy: quality.StrategyStandard}
	res, err := ex.Extract(context.Background(), path, hash, rep)

	require.NoError(t, err)
	assert.Equal(t, SourceNative, res.Source)
	assert.Equal(t, CorruptionNone, res.Corruption)
	assert.Contains(t, res.Text, "contract text")
}

func TestExtractOCRForScanned(t *testing.T) {
	runner := &fakeRunner{
		pages:    3,
		pageText: func(p int) string { return fmt.Sprintf("page %d body", p) },
	}
	ex := newExtractor(t, runner)
	path, hash := tempPDF(t, "scanned")

	rep := quality.Report{PageCount: 3, Scanned: true, Strategy: quality.StrategyEnhancedOCR}
	res, err := ex.Extract(context.Background(), path, hash, rep)

	require.NoError(t, err)
	assert.Equal(t, SourceOCR, res.Source)
	// Pages reassembled in order regardless of OCR completion order.
	p1 := strings.Index(res.Text, "page 1 body")
	p2 := strings.Index(res.Text, "page 2 body")
	p3 := strings.Index(res.Text, "page 3 body")
	require.True(t, p1 >= 0 && p2 >= 0 && p3 >= 0)
	assert.Less(t, p1, p2)
	assert.Less(t, p2, p3)
}

func TestExtractFallsBackWhenTextLayerSparse(t *testing.T) {
	runner := &fakeRunner{
		nativeText: "x", // 0.5 chars/page, far below the scanned threshold
		pages:      2,
		pageText:   func(p int) string { return strings.Repeat("recovered ", 50) },
	}
	ex := newExtractor(t, runner)
	path, hash := tempPDF(t, "sparse")

	rep := quality.Report{PageCount: 2, Strategy: quality.StrategyStandard}
	res, err := ex.Extract(context.Background(), path, hash, rep)

	require.NoError(t, err)
	assert.Equal(t, SourceOCR, res.Source)
	assert.NotEmpty(t, res.Warnings)
}

func TestExtractRecoverableCorruptionRetriesViaOCR(t *testing.T) {
	runner := &fakeRunner{
		nativeErr:  errors.New("exit status 1"),
		nativeErrb: []byte("Syntax Error: Token too large for buffer"),
		pages:      1,
		pageText:   func(p int) string { return "rescued text" },
	}
	ex := newExtractor(t, runner)
	path, hash := tempPDF(t, "damaged")

	rep := quality.Report{PageCount: 1, Strategy: quality.StrategyStandard}
	res, err := ex.Extract(context.Background(), path, hash, rep)

	require.NoError(t, err)
	assert.Equal(t, SourceOCR, res.Source)
	assert.Equal(t, CorruptionTokenOverflow, res.Corruption)
}

func TestExtractFatalCorruptionFails(t *testing.T) {
	runner := &fakeRunner{
		nativeErr:  errors.New("exit status 1"),
		nativeErrb: []byte("Couldn't find trailer dictionary"),
	}
	ex := newExtractor(t, runner)
	path, hash := tempPDF(t, "broken")

	rep := quality.Report{PageCount: 1, Strategy: quality.StrategyStandard}
	res, err := ex.Extract(context.Background(), path, hash, rep)

	require.Error(t, err)
	assert.Equal(t, CorruptionBrokenXref, res.Corruption)
	assert.Empty(t, res.Text)
}

func TestClassifyStderr(t *testing.T) {
	tests := []struct {
		stderr string
		want   Corruption
	}{
		{"Syntax Error: Token too large for buffer", CorruptionTokenOverflow},
		{"Syntax Warning: End of file is not %%EOF", CorruptionMissingEOF},
		{"Couldn't find trailer dictionary", CorruptionBrokenXref},
		{"Couldn't read xref table", CorruptionBrokenXref},
		{"Couldn't find 'startxref'", CorruptionNoStartxref},
		{"Invalid object stream", CorruptionCorruptObject},
		{"Dictionary key must be a name object", CorruptionCorruptObject},
		{"", CorruptionNone},
		{"some unrelated warning", CorruptionNone},
	}
	for _, tt := range tests {
		t.Run(tt.stderr, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyStderr([]byte(tt.stderr)))
		})
	}
}

func TestClassifyFailureIgnoresCancellation(t *testing.T) {
	assert.Equal(t, CorruptionNone, classifyFailure(context.Canceled))
	assert.Equal(t, CorruptionNone, classifyFailure(context.DeadlineExceeded))
	assert.Equal(t, CorruptionUnknown, classifyFailure(errors.New("mystery")))
}

func TestPageImageData(t *testing.T) {
	runner := &fakeRunner{pages: 3}
	ex := newExtractor(t, runner)
	path, hash := tempPDF(t, "scanned")

	imgs, err := ex.PageImageData(context.Background(), path, hash, 2)
	require.NoError(t, err)
	require.Len(t, imgs, 2, "page count capped at max")
	for _, img := range imgs {
		assert.True(t, strings.HasPrefix(img, "data:image/png;base64,"))
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(imgs[0], "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(decoded))
}

func TestPageImageDataRenderFailure(t *testing.T) {
	runner := &fakeRunner{renderErr: errors.New("exit status 1")}
	ex := newExtractor(t, runner)
	path, hash := tempPDF(t, "scanned")

	_, err := ex.PageImageData(context.Background(), path, hash, 2)
	assert.Error(t, err)
}

func TestSortedPagesNumericOrder(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "page")
	for _, n := range []string{"10", "2", "1"} {
		require.NoError(t, os.WriteFile(prefix+"-"+n+".png", []byte("p"), 0o644))
	}
	pages := sortedPages(prefix)
	require.Len(t, pages, 3)
	assert.Equal(t, prefix+"-1.png", pages[0])
	assert.Equal(t, prefix+"-2.png", pages[1])
	assert.Equal(t, prefix+"-10.png", pages[2])
}
