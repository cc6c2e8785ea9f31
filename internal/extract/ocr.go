package extract

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/docupipe/contractscan/internal/cache"
	"github.com/docupipe/contractscan/internal/quality"
)

// ocrDocument rasterizes the PDF and runs tesseract page by page.
// Pages are OCRed in parallel but reassembled in page order.
func (t *TextExtractor) ocrDocument(ctx context.Context, path, hashHex string, rep quality.Report) (string, error) {
	key := cache.Key{HashHex: hashHex, Stage: fmt.Sprintf("ocr:%s:%d", t.ocr.Languages, t.ocr.DPI)}
	out, err := t.store.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		pages, err := t.renderPages(ctx, path, hashHex)
		if err != nil {
			return nil, err
		}
		if len(pages) == 0 {
			return nil, fmt.Errorf("rasterization produced no pages")
		}

		texts := make([]string, len(pages))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for i, img := range pages {
			g.Go(func() error {
				text, err := t.ocrPage(gctx, img, rep.Score)
				if err != nil {
					return fmt.Errorf("ocr page %d: %w", i+1, err)
				}
				texts[i] = text
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return []byte(strings.Join(texts, "\n\f\n")), nil
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// renderPages rasterizes into the artifact cache dir, keyed by content
// hash and DPI so a re-run of the same bytes reuses the images.
func (t *TextExtractor) renderPages(ctx context.Context, path, hashHex string) ([]string, error) {
	dir := filepath.Join(t.ocr.ArtifactCacheDir, hashHex[:16]+"-"+strconv.Itoa(t.ocr.DPI))
	prefix := filepath.Join(dir, "page")

	if existing := sortedPages(prefix); len(existing) > 0 {
		t.logger.Debug("extract.render.cached", "dir", dir, "pages", len(existing))
		return existing, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	args := []string{"-r", strconv.Itoa(t.ocr.DPI), "-png"}
	if t.ocr.MaxPages > 0 {
		args = append(args, "-f", "1", "-l", strconv.Itoa(t.ocr.MaxPages))
	}
	args = append(args, path, prefix)
	if _, stderr, err := t.runner.Run(ctx, t.ocr.Pdftoppm, args...); err != nil {
		return nil, fmt.Errorf("rasterize PDF: %w (stderr: %s)", err, firstLine(stderr))
	}
	return sortedPages(prefix), nil
}

// PageImageData returns up to max rendered pages as base64 PNG data
// URLs for vision-capable models, reusing the artifact cache so a
// document already OCRed never rasterizes twice.
func (t *TextExtractor) PageImageData(ctx context.Context, path, hashHex string, max int) ([]string, error) {
	pages, err := t.renderPages(ctx, path, hashHex)
	if err != nil {
		return nil, err
	}
	if max > 0 && len(pages) > max {
		pages = pages[:max]
	}
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read page image: %w", err)
		}
		out = append(out, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(b))
	}
	return out, nil
}

// ocrPage runs tesseract on one page image. Low-quality documents get
// heavier preprocessing via PSM 11 (sparse text) instead of the default
// uniform-block mode.
func (t *TextExtractor) ocrPage(ctx context.Context, imgPath string, score int) (string, error) {
	psm := t.ocr.PSM
	if score < 40 {
		psm = 11
	}
	args := []string{imgPath, "stdout", "-l", t.ocr.Languages, "--psm", strconv.Itoa(psm)}
	if t.ocr.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(t.ocr.OEM))
	}
	out, _, err := t.runner.Run(ctx, t.ocr.Tesseract, args...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// sortedPages lists prefix-NN.png in page order. pdftoppm zero-pads the
// page number so lexical order matches numeric order, but we sort
// numerically anyway for odd page counts.
func sortedPages(prefix string) []string {
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Slice(matches, func(i, j int) bool {
		return pageNum(matches[i]) < pageNum(matches[j])
	})
	return matches
}

func pageNum(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	idx := strings.LastIndex(base, "-")
	if idx < 0 {
		return 0
	}
	n, _ := strconv.Atoi(base[idx+1:])
	return n
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
