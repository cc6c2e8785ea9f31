package validate

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docupipe/contractscan/internal/config"
	"github.com/docupipe/contractscan/internal/contract"
	"github.com/docupipe/contractscan/internal/quality"
	"github.com/docupipe/contractscan/internal/rules"
)

// Severity grades a validation finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Issue is one validation finding tied to a field (or "" for
// document-level findings).
type Issue struct {
	Field    string
	Severity Severity
	Message  string
}

// Result is the validation verdict for one extraction.
type Result struct {
	Confidence    float64 // 0..100
	Issues        []Issue
	NeedsReview   bool
	ReviewReasons []string
}

func (r *Result) Criticals() int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

func (r *Result) Warnings() int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == SeverityWarning {
			n++
		}
	}
	return n
}

// criticalFields must be present for an extraction to be usable.
var criticalFields = map[string]bool{
	"party":         true,
	"signed_date":   true,
	"contract_type": true,
}

// fieldWeights drive the confidence score. They sum to 1.0 together
// with the cross-field, OCR, and model components.
var fieldWeights = map[string]float64{
	"party":         0.20,
	"contract_type": 0.15,
	"signed_date":   0.15,
	"start_date":    0.10,
	"end_date":      0.10,
	"address":       0.10,
	"country":       0.10,
}

const (
	crossWeight = 0.05
	ocrWeight   = 0.025
	modelWeight = 0.025
)

// placeholders the model emits instead of admitting absence.
var placeholderValues = []string{"unknown", "n/a", "na", "none", "null", "tbd", "xxx", "not specified", "not available"}

// Validator runs the staged checks and produces the confidence score
// and review decision.
type Validator struct {
	cfg    config.ValidationConfig
	logger *slog.Logger
}

func NewValidator(cfg config.ValidationConfig, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{cfg: cfg, logger: logger}
}

// Validate runs all stages in order: field-level checks, cross-field
// consistency, the OCR-quality gate, the model-confidence gate, and
// anomaly detection. Stages only append issues; the score and review
// decision are computed once at the end, so stage order never changes
// the verdict.
func (v *Validator) Validate(e *contract.Extraction, q quality.Report) Result {
	var res Result

	fieldScores := v.checkFields(e, &res)
	crossScore := v.checkCrossField(&e.Fields, &res)
	ocrScore := v.checkOCRQuality(q, &res)
	modelScore := v.checkModelConfidence(&e.Fields, &res)
	v.checkAnomalies(&e.Fields, &res)

	res.Confidence = v.score(fieldScores, crossScore, ocrScore, modelScore, &res)
	v.decideReview(&res)

	v.logger.Debug("validate.done",
		"confidence", res.Confidence,
		"criticals", res.Criticals(),
		"warnings", res.Warnings(),
		"needs_review", res.NeedsReview,
	)
	return res
}

// checkFields validates each field in isolation and returns a per-field
// quality score (0..100).
func (v *Validator) checkFields(e *contract.Extraction, res *Result) map[string]float64 {
	scores := make(map[string]float64, len(fieldWeights))
	f := &e.Fields

	for name := range fieldWeights {
		value := strings.TrimSpace(f.Get(name))
		if value == "" {
			scores[name] = 0
			if criticalFields[name] {
				res.Issues = append(res.Issues, Issue{Field: name, Severity: SeverityCritical,
					Message: "required field is missing"})
			}
			continue
		}
		if isPlaceholder(value) {
			scores[name] = 0
			sev := SeverityWarning
			if criticalFields[name] {
				sev = SeverityCritical
			}
			res.Issues = append(res.Issues, Issue{Field: name, Severity: sev,
				Message: fmt.Sprintf("placeholder value %q", value)})
			continue
		}
		scores[name] = 100

		switch name {
		case "signed_date", "start_date", "end_date":
			if t, err := time.Parse("2006-01-02", value); err != nil {
				scores[name] = 20
				res.Issues = append(res.Issues, Issue{Field: name, Severity: SeverityCritical,
					Message: fmt.Sprintf("unparseable date %q", value)})
			} else if name == "signed_date" && t.After(time.Now().AddDate(0, 0, 1)) {
				scores[name] = 60
				res.Issues = append(res.Issues, Issue{Field: name, Severity: SeverityWarning,
					Message: "signed date is in the future"})
			}
		case "party":
			if len([]rune(value)) < 3 {
				scores[name] = 40
				res.Issues = append(res.Issues, Issue{Field: name, Severity: SeverityWarning,
					Message: "party name suspiciously short"})
			} else if src := e.Provenance[name]; src == contract.FromFilename {
				scores[name] = 70
				res.Issues = append(res.Issues, Issue{Field: name, Severity: SeverityWarning,
					Message: "party guessed from filename"})
			}
		case "address":
			if len([]rune(value)) < 8 {
				scores[name] = 60
				res.Issues = append(res.Issues, Issue{Field: name, Severity: SeverityWarning,
					Message: "address looks incomplete"})
			}
		case "country":
			if !rules.KnownCountry(value) {
				scores[name] = 50
				res.Issues = append(res.Issues, Issue{Field: name, Severity: SeverityWarning,
					Message: fmt.Sprintf("country %q is not in the reference list", value)})
			}
		}
	}
	return scores
}

// checkCrossField verifies date consistency across fields.
func (v *Validator) checkCrossField(f *contract.Fields, res *Result) float64 {
	start, startOK := parseDate(f.StartDate)
	end, endOK := parseDate(f.EndDate)
	signed, signedOK := parseDate(f.SignedDate)

	score := 100.0
	if startOK && endOK {
		if end.Before(start) {
			score = 0
			res.Issues = append(res.Issues, Issue{Field: "end_date", Severity: SeverityCritical,
				Message: "end date precedes start date"})
		} else {
			dur := end.Sub(start)
			if dur < 30*24*time.Hour {
				score = 70
				res.Issues = append(res.Issues, Issue{Field: "end_date", Severity: SeverityWarning,
					Message: fmt.Sprintf("unusually short term: %d days", int(dur.Hours()/24))})
			} else if dur > 10*365*24*time.Hour {
				score = 70
				res.Issues = append(res.Issues, Issue{Field: "end_date", Severity: SeverityWarning,
					Message: "unusually long term: over 10 years"})
			}
		}
	}
	if signedOK && startOK && signed.After(start) {
		if score > 40 {
			score = 40
		}
		res.Issues = append(res.Issues, Issue{Field: "signed_date", Severity: SeverityCritical,
			Message: "signed date postdates the start date"})
	}
	return score
}

func (v *Validator) checkOCRQuality(q quality.Report, res *Result) float64 {
	if float64(q.Score) < v.cfg.OCRQualityFloor {
		res.Issues = append(res.Issues, Issue{Severity: SeverityWarning,
			Message: fmt.Sprintf("low source quality score: %d", q.Score)})
	}
	return float64(q.Score)
}

func (v *Validator) checkModelConfidence(f *contract.Fields, res *Result) float64 {
	if f.ModelConfidence <= 0 {
		// Model did not self-report; neutral contribution.
		return 75
	}
	score := float64(f.ModelConfidence) * 100
	if float64(f.ModelConfidence) < v.cfg.ModelConfFloor {
		res.Issues = append(res.Issues, Issue{Severity: SeverityWarning,
			Message: fmt.Sprintf("model self-reported low confidence: %.2f", f.ModelConfidence)})
	}
	return score
}

// checkAnomalies flags values that look like OCR garbage rather than
// extraction mistakes.
func (v *Validator) checkAnomalies(f *contract.Fields, res *Result) {
	for _, name := range []string{"party", "contract_name", "address"} {
		value := f.Get(name)
		if value == "" {
			continue
		}
		if hasLongRun(value, 4) {
			res.Issues = append(res.Issues, Issue{Field: name, Severity: SeverityWarning,
				Message: "repeated character run suggests OCR noise"})
		}
		if hasNonPrintable(value) {
			res.Issues = append(res.Issues, Issue{Field: name, Severity: SeverityWarning,
				Message: "contains non-printable characters"})
		}
		if len([]rune(value)) > 20 && value == strings.ToUpper(value) && strings.ContainsAny(value, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ") {
			res.Issues = append(res.Issues, Issue{Field: name, Severity: SeverityWarning,
				Message: "long all-caps value"})
		}
	}
}

// score folds the per-component scores into the weighted confidence,
// then applies flat penalties per finding.
func (v *Validator) score(fields map[string]float64, cross, ocr, model float64, res *Result) float64 {
	total := 0.0
	for name, w := range fieldWeights {
		total += w * fields[name]
	}
	total += crossWeight * cross
	total += ocrWeight * ocr
	total += modelWeight * model

	total -= v.cfg.CriticalPenalty * float64(res.Criticals())
	total -= v.cfg.WarningPenalty * float64(res.Warnings())

	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}
	return total
}

func (v *Validator) decideReview(res *Result) {
	if res.Confidence < v.cfg.ReviewThreshold {
		res.ReviewReasons = append(res.ReviewReasons,
			fmt.Sprintf("confidence %.1f below threshold %.0f", res.Confidence, v.cfg.ReviewThreshold))
	}
	if n := res.Warnings(); n >= v.cfg.WarningReviewCount {
		res.ReviewReasons = append(res.ReviewReasons, fmt.Sprintf("%d warnings", n))
	}
	if n := res.Criticals(); n > 0 {
		res.ReviewReasons = append(res.ReviewReasons, fmt.Sprintf("critical issues: %d", n))
	}
	for _, is := range res.Issues {
		if is.Severity == SeverityCritical && criticalFields[is.Field] {
			res.ReviewReasons = append(res.ReviewReasons, "critical issue on "+is.Field)
			break
		}
	}
	res.NeedsReview = len(res.ReviewReasons) > 0
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	return t, err == nil
}

func isPlaceholder(s string) bool {
	lower := strings.ToLower(strings.Trim(s, "[]<>() "))
	for _, p := range placeholderValues {
		if lower == p {
			return true
		}
	}
	return false
}

func hasLongRun(s string, n int) bool {
	run, prev := 0, rune(-1)
	for _, r := range s {
		if r == prev && r != ' ' {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 1
		}
		prev = r
	}
	return false
}

func hasNonPrintable(s string) bool {
	for _, r := range s {
		if r < 32 && r != '\n' && r != '\t' {
			return true
		}
		if r == 0xFFFD {
			return true
		}
	}
	return false
}
