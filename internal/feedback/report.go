package feedback

import (
	"context"
	"database/sql"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/docupipe/contractscan/constants"
	"github.com/docupipe/contractscan/internal/common"
)

// FieldAccuracy is the per-field share of documents that needed no
// correction within the window. Uncorrected documents count as correct,
// so the number is an upper bound; errors nobody reviewed stay
// invisible.
type FieldAccuracy struct {
	FieldName   string
	Documents   int
	Corrections int
	Accuracy    float64 // 0..100
}

// Accuracy computes per-field accuracy over the feedback window.
func (s *Store) Accuracy(ctx context.Context) ([]FieldAccuracy, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.WindowDays)

	var docs int
	docQuery := s.sb.Select("COUNT(*)").
		From("documents").
		Where(sq.GtOrEq{"updated_at": cutoff})
	if err := docQuery.RunWith(s.db).QueryRowContext(ctx).Scan(&docs); err != nil {
		return nil, common.WrapSentinel(common.ErrDatabase, "count documents", err)
	}

	corrQuery := s.sb.Select("field_name", "COUNT(*)").
		From("corrections").
		Where(sq.GtOrEq{"created_at": cutoff}).
		GroupBy("field_name")
	rows, err := corrQuery.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, common.WrapSentinel(common.ErrDatabase, "count corrections", err)
	}
	defer func() { _ = rows.Close() }()

	counts := map[string]int{}
	for rows.Next() {
		var field string
		var n int
		if err := rows.Scan(&field, &n); err != nil {
			return nil, common.WrapSentinel(common.ErrDatabase, "scan correction count", err)
		}
		counts[field] = n
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapSentinel(common.ErrDatabase, "iterate correction counts", err)
	}

	out := make([]FieldAccuracy, 0, len(constants.FieldNames))
	for _, field := range constants.FieldNames {
		fa := FieldAccuracy{FieldName: field, Documents: docs, Corrections: counts[field], Accuracy: 100}
		if docs > 0 {
			fa.Accuracy = 100 * (1 - float64(fa.Corrections)/float64(docs))
			if fa.Accuracy < 0 {
				fa.Accuracy = 0
			}
		}
		out = append(out, fa)
	}
	return out, nil
}

// OverallAccuracy averages the per-field accuracies.
func (s *Store) OverallAccuracy(ctx context.Context) (float64, error) {
	fields, err := s.Accuracy(ctx)
	if err != nil {
		return 0, err
	}
	if len(fields) == 0 {
		return 100, nil
	}
	total := 0.0
	for _, fa := range fields {
		total += fa.Accuracy
	}
	return total / float64(len(fields)), nil
}

// RecordVariantOutcome logs one document's result under a prompt
// variant for A/B comparison.
func (s *Store) RecordVariantOutcome(ctx context.Context, variant, documentID string, confidence float64, needsReview, failed bool) error {
	if variant == "" {
		return nil
	}
	now := time.Now().UTC()
	insert := s.sb.Insert("variant_stats").
		Columns("variant", "document_id", "confidence", "needs_review", "corrected", "failed", "created_at").
		Values(variant, documentID, confidence, needsReview, false, failed, now)
	if _, err := insert.RunWith(s.db).ExecContext(ctx); err != nil {
		return common.WrapSentinel(common.ErrDatabase, "insert variant outcome", err)
	}
	return nil
}

// MarkVariantCorrected flags a variant outcome once a human correction
// lands on its document.
func (s *Store) MarkVariantCorrected(ctx context.Context, documentID string) error {
	update := s.sb.Update("variant_stats").
		Set("corrected", true).
		Where(sq.Eq{"document_id": documentID})
	if _, err := update.RunWith(s.db).ExecContext(ctx); err != nil {
		return common.WrapSentinel(common.ErrDatabase, "mark variant corrected", err)
	}
	return nil
}

// VariantReport is the A/B scorecard for one prompt variant.
type VariantReport struct {
	Variant        string
	Documents      int
	AvgConfidence  float64
	CorrectionRate float64 // percent of documents corrected
	ReviewRate     float64 // percent of documents flagged for review
	ErrorCount     int
	Composite      float64
}

// compositeScore folds the variant metrics into one comparable number.
// Confidence dominates, then correction rate, then review rate, then a
// small penalty for hard failures.
func compositeScore(avgConf, correctionRate, reviewRate float64, errorCount int) float64 {
	errs := float64(errorCount)
	if errs > 100 {
		errs = 100
	}
	return 0.4*avgConf + 0.3*(100-correctionRate) + 0.2*(100-reviewRate) + 0.1*(100-errs)
}

// VariantReports aggregates the stats per variant, best composite
// first.
func (s *Store) VariantReports(ctx context.Context) ([]VariantReport, error) {
	query := s.sb.Select(
		"variant",
		"COUNT(*)",
		"AVG(confidence)",
		"SUM(CASE WHEN corrected THEN 1 ELSE 0 END)",
		"SUM(CASE WHEN needs_review THEN 1 ELSE 0 END)",
		"SUM(CASE WHEN failed THEN 1 ELSE 0 END)",
	).
		From("variant_stats").
		GroupBy("variant")
	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, common.WrapSentinel(common.ErrDatabase, "query variant stats", err)
	}
	defer func() { _ = rows.Close() }()

	var out []VariantReport
	for rows.Next() {
		var vr VariantReport
		var corrected, reviewed int
		var avgConf sql.NullFloat64
		if err := rows.Scan(&vr.Variant, &vr.Documents, &avgConf, &corrected, &reviewed, &vr.ErrorCount); err != nil {
			return nil, common.WrapSentinel(common.ErrDatabase, "scan variant stats", err)
		}
		vr.AvgConfidence = avgConf.Float64
		if vr.Documents > 0 {
			vr.CorrectionRate = 100 * float64(corrected) / float64(vr.Documents)
			vr.ReviewRate = 100 * float64(reviewed) / float64(vr.Documents)
		}
		vr.Composite = compositeScore(vr.AvgConfidence, vr.CorrectionRate, vr.ReviewRate, vr.ErrorCount)
		out = append(out, vr)
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapSentinel(common.ErrDatabase, "iterate variant stats", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Composite > out[j].Composite })
	return out, nil
}
