package quality

import (
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docupipe/contractscan/internal/config"
	"github.com/docupipe/contractscan/internal/pdftool"
)

// Strategy is the extraction approach chosen per document.
type Strategy string

const (
	StrategyStandard    Strategy = "standard"
	StrategyEnhancedOCR Strategy = "enhanced_ocr"
	StrategyVisionModel Strategy = "vision_model"
)

// Weight orders strategies from lightest to heaviest.
func (s Strategy) Weight() int {
	switch s {
	case StrategyStandard:
		return 0
	case StrategyEnhancedOCR:
		return 1
	case StrategyVisionModel:
		return 2
	default:
		return 2
	}
}

// Report is the per-document quality assessment. Immutable once built.
type Report struct {
	Score       int // 0-100
	Issues      []string
	Scanned     bool
	DPI         int
	TextDensity float64 // chars per sampled page
	PageCount   int
	FileSizeMB  float64
	Rotated     bool
	Strategy    Strategy
}

// a4WidthInches is the reference page width for the DPI estimate.
const a4WidthInches = 8.27

// Assessor inspects a PDF and scores its suitability for direct text
// extraction. It never returns an error: unreadable files yield a zero
// score and the enhanced_ocr strategy.
type Assessor struct {
	cfg    config.QualityConfig
	tools  config.OCRConfig
	runner pdftool.Runner
	logger *slog.Logger
}

func NewAssessor(cfg config.QualityConfig, tools config.OCRConfig, runner pdftool.Runner, logger *slog.Logger) *Assessor {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = pdftool.ExecRunner{}
	}
	return &Assessor{cfg: cfg, tools: tools, runner: runner, logger: logger}
}

// Assess runs the full quality analysis for one file.
func (a *Assessor) Assess(ctx context.Context, path string) Report {
	rep := Report{Score: 100}

	if st, err := os.Stat(path); err == nil {
		rep.FileSizeMB = float64(st.Size()) / (1 << 20)
	}

	out, _, err := a.runner.Run(ctx, a.tools.Pdfinfo, path)
	if err != nil {
		a.logger.Warn("quality.parse_failed", "path", path, "error", err)
		rep.Score = 0
		rep.Scanned = true
		rep.Issues = append(rep.Issues, fmt.Sprintf("unreadable PDF: %v", err))
		rep.Strategy = StrategyEnhancedOCR
		return rep
	}
	info := pdftool.ParseInfo(out)
	rep.PageCount = info.Pages
	rep.Rotated = info.Rotation != 0
	if info.Encrypted {
		rep.Issues = append(rep.Issues, "PDF is encrypted")
	}

	rep.TextDensity = a.sampleTextDensity(ctx, path, info.Pages)
	rep.Scanned = rep.TextDensity < a.cfg.ScannedTextDensity
	rep.DPI = a.estimateDPI(ctx, path)

	a.score(&rep)
	rep.Strategy = a.selectStrategy(rep.Score, rep.Scanned)

	a.logger.Debug("quality.assessed",
		"path", path,
		"score", rep.Score,
		"scanned", rep.Scanned,
		"dpi", rep.DPI,
		"density", rep.TextDensity,
		"strategy", rep.Strategy,
	)
	return rep
}

// sampleTextDensity extracts text from the first few pages and returns
// characters per sampled page.
func (a *Assessor) sampleTextDensity(ctx context.Context, path string, pages int) float64 {
	sample := pages
	if sample > 5 {
		sample = 5
	}
	if sample <= 0 {
		sample = 1
	}
	out, _, err := a.runner.Run(ctx, a.tools.Pdftotext,
		"-f", "1", "-l", fmt.Sprintf("%d", sample),
		"-enc", "UTF-8", path, "-")
	if err != nil {
		return 0
	}
	return float64(len(out)) / float64(sample)
}

// estimateDPI renders the first page at 72 DPI and infers effective
// resolution from the pixel width relative to A4.
func (a *Assessor) estimateDPI(ctx context.Context, path string) int {
	tmpDir, err := os.MkdirTemp("", "cs-dpi-*")
	if err != nil {
		return 150
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	prefix := filepath.Join(tmpDir, "probe")
	if _, _, err := a.runner.Run(ctx, a.tools.Pdftoppm,
		"-r", "72", "-f", "1", "-l", "1", "-png", path, prefix); err != nil {
		return 150
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	if len(matches) == 0 {
		return 150
	}
	f, err := os.Open(matches[0])
	if err != nil {
		return 150
	}
	defer func() { _ = f.Close() }()

	cfg, err := png.DecodeConfig(f)
	if err != nil {
		return 150
	}

	estimated := int(float64(cfg.Width) / a4WidthInches * 72)
	if estimated < 50 {
		return 72
	}
	if estimated > 600 {
		return 300
	}
	return estimated
}

func (a *Assessor) score(rep *Report) {
	score := rep.Score

	if rep.DPI < a.cfg.MinDPI {
		score -= 20
		rep.Issues = append(rep.Issues, fmt.Sprintf("low DPI: %d (minimum %d)", rep.DPI, a.cfg.MinDPI))
	} else if rep.DPI < a.cfg.OptimalDPI {
		score -= 10
		rep.Issues = append(rep.Issues, fmt.Sprintf("medium DPI: %d (optimal %d)", rep.DPI, a.cfg.OptimalDPI))
	}

	if rep.Scanned {
		score -= 30
		rep.Issues = append(rep.Issues, fmt.Sprintf("scanned PDF, OCR required (text density %.1f)", rep.TextDensity))
	} else if rep.TextDensity < a.cfg.LowTextDensity {
		score -= 15
		rep.Issues = append(rep.Issues, fmt.Sprintf("low text density: %.1f chars/page", rep.TextDensity))
	}

	if rep.FileSizeMB > a.cfg.MaxFileSizeMB {
		score -= 15
		rep.Issues = append(rep.Issues, fmt.Sprintf("large file: %.1fMB (max %.0fMB)", rep.FileSizeMB, a.cfg.MaxFileSizeMB))
	}

	if rep.PageCount > a.cfg.MaxPages {
		score -= 10
		rep.Issues = append(rep.Issues, fmt.Sprintf("many pages: %d", rep.PageCount))
	}

	if rep.Rotated {
		score -= 10
		rep.Issues = append(rep.Issues, "rotated pages detected")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	rep.Score = score
}

// selectStrategy is the threshold ladder. It is monotonic in score and
// treats scanned as a hard override toward heavier strategies.
func (a *Assessor) selectStrategy(score int, scanned bool) Strategy {
	if scanned {
		if score < a.cfg.VisionScore {
			return StrategyVisionModel
		}
		return StrategyEnhancedOCR
	}
	switch {
	case score >= a.cfg.StandardScore:
		return StrategyStandard
	case score >= a.cfg.VisionScore:
		return StrategyEnhancedOCR
	default:
		return StrategyVisionModel
	}
}
