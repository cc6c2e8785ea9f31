package feedback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/docupipe/contractscan/internal/common"
	"github.com/docupipe/contractscan/internal/config"
)

// Correction is one human fix to an extracted field. CorrectedBy and
// Reason are optional audit metadata; ConfidenceBefore snapshots the
// document's confidence at correction time.
type Correction struct {
	ID               string
	DocumentID       string
	FieldName        string
	OriginalValue    string
	CorrectedValue   string
	Pattern          string
	CorrectedBy      string
	Reason           string
	ConfidenceBefore float64
	CreatedAt        time.Time
}

// PatternCount aggregates outcomes by field and failure pattern.
// Accuracy derives from the two counters.
type PatternCount struct {
	FieldName    string
	Pattern      string
	SuccessCount int
	FailureCount int
	Accuracy     float64 // 0..100
}

// Store persists corrections and the derived pattern counters, and
// serves the adaptive hints built from them.
type Store struct {
	db     *sql.DB
	sb     sq.StatementBuilderType
	cfg    config.FeedbackConfig
	logger *slog.Logger
}

func NewStore(db *sql.DB, sb sq.StatementBuilderType, cfg config.FeedbackConfig, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, sb: sb, cfg: cfg, logger: logger}
}

// RecordCorrection writes the correction and bumps its pattern's
// failure counter in one transaction. ownEntity marks that the wrong
// value was one of the operator's own companies. c.ID, c.Pattern, and
// c.CreatedAt are assigned by the store.
func (s *Store) RecordCorrection(ctx context.Context, c Correction, ownEntity bool) (string, error) {
	pattern := ClassifyCorrection(c.OriginalValue, c.CorrectedValue, ownEntity)
	now := time.Now().UTC()
	id := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", common.WrapSentinel(common.ErrDatabase, "begin correction tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := s.sb.Insert("corrections").
		Columns("id", "document_id", "field_name", "original_value", "corrected_value",
			"pattern", "corrected_by", "correction_reason", "confidence_before", "created_at").
		Values(id, c.DocumentID, c.FieldName, c.OriginalValue, c.CorrectedValue,
			pattern, c.CorrectedBy, c.Reason, c.ConfidenceBefore, now)
	if _, err := insert.RunWith(tx).ExecContext(ctx); err != nil {
		return "", common.WrapSentinel(common.ErrDatabase, "insert correction", err)
	}

	if err := s.bumpPattern(ctx, tx, c.FieldName, pattern, now); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", common.WrapSentinel(common.ErrDatabase, "commit correction", err)
	}

	s.logger.Info("feedback.correction_recorded",
		"document_id", c.DocumentID,
		"field", c.FieldName,
		"pattern", pattern,
		"corrected_by", c.CorrectedBy,
	)
	return id, nil
}

// bumpPattern increments the failure counter, creating the row on first
// sight. Portable read-then-write instead of driver-specific upsert
// syntax.
func (s *Store) bumpPattern(ctx context.Context, tx *sql.Tx, field, pattern string, now time.Time) error {
	var failures int
	sel := s.sb.Select("failure_count").
		From("extraction_patterns").
		Where(sq.Eq{"field_name": field, "pattern": pattern})
	err := sel.RunWith(tx).QueryRowContext(ctx).Scan(&failures)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		insert := s.sb.Insert("extraction_patterns").
			Columns("id", "field_name", "pattern", "success_count", "failure_count", "active", "last_seen", "created_at").
			Values(uuid.New().String(), field, pattern, 0, 1, true, now, now)
		if _, err := insert.RunWith(tx).ExecContext(ctx); err != nil {
			return common.WrapSentinel(common.ErrDatabase, "insert pattern", err)
		}
		return nil
	case err != nil:
		return common.WrapSentinel(common.ErrDatabase, "read pattern", err)
	}

	update := s.sb.Update("extraction_patterns").
		Set("failure_count", failures+1).
		Set("active", true).
		Set("last_seen", now).
		Where(sq.Eq{"field_name": field, "pattern": pattern})
	if _, err := update.RunWith(tx).ExecContext(ctx); err != nil {
		return common.WrapSentinel(common.ErrDatabase, "update pattern", err)
	}
	return nil
}

// RecordFieldSuccesses bumps the success counter on every known pattern
// of the given fields. Called when a document completes without needing
// review, so pattern accuracy reflects how often each field holds up.
func (s *Store) RecordFieldSuccesses(ctx context.Context, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	update := s.sb.Update("extraction_patterns").
		Set("success_count", sq.Expr("success_count + 1")).
		Where(sq.Eq{"field_name": fields})
	if _, err := update.RunWith(s.db).ExecContext(ctx); err != nil {
		return common.WrapSentinel(common.ErrDatabase, "bump pattern successes", err)
	}
	return nil
}

// CommonMistakes returns the active pattern counters within the
// feedback window, highest failure rate first so the least reliable
// extraction behavior tops the list.
func (s *Store) CommonMistakes(ctx context.Context) ([]PatternCount, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.WindowDays)
	query := s.sb.Select("field_name", "pattern", "success_count", "failure_count").
		From("extraction_patterns").
		Where(sq.And{
			sq.Eq{"active": true},
			sq.GtOrEq{"last_seen": cutoff},
		}).
		OrderBy("CAST(failure_count AS REAL) / (success_count + failure_count) DESC", "failure_count DESC")
	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, common.WrapSentinel(common.ErrDatabase, "query patterns", err)
	}
	defer func() { _ = rows.Close() }()

	var out []PatternCount
	for rows.Next() {
		var pc PatternCount
		if err := rows.Scan(&pc.FieldName, &pc.Pattern, &pc.SuccessCount, &pc.FailureCount); err != nil {
			return nil, common.WrapSentinel(common.ErrDatabase, "scan pattern", err)
		}
		if total := pc.SuccessCount + pc.FailureCount; total > 0 {
			pc.Accuracy = 100 * float64(pc.SuccessCount) / float64(total)
		}
		out = append(out, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapSentinel(common.ErrDatabase, "iterate patterns", err)
	}
	return out, nil
}

// AdaptiveHints converts repeated patterns into per-field corrective
// statements for the prompt. Only patterns seen at least HintMinCount
// times qualify, capped at HintLimit hints per field.
func (s *Store) AdaptiveHints(ctx context.Context) (map[string][]string, error) {
	patterns, err := s.CommonMistakes(ctx)
	if err != nil {
		return nil, err
	}

	hints := make(map[string][]string)
	for _, pc := range patterns {
		if pc.FailureCount < s.cfg.HintMinCount {
			continue
		}
		if len(hints[pc.FieldName]) >= s.cfg.HintLimit {
			continue
		}
		tmpl, ok := hintTemplates[pc.Pattern]
		if !ok {
			tmpl = hintTemplates[PatternOther]
		}
		hints[pc.FieldName] = append(hints[pc.FieldName], fmt.Sprintf(tmpl, pc.FieldName))
	}
	return hints, nil
}

// DeactivateStale retires patterns not reinforced within the window.
// Retired patterns stop producing hints but keep their history.
func (s *Store) DeactivateStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.WindowDays)
	update := s.sb.Update("extraction_patterns").
		Set("active", false).
		Where(sq.And{
			sq.Eq{"active": true},
			sq.Lt{"last_seen": cutoff},
		})
	res, err := update.RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return 0, common.WrapSentinel(common.ErrDatabase, "deactivate patterns", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("feedback.patterns_deactivated", "count", n)
	}
	return n, nil
}
