package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/docupipe/contractscan/constants"
	"github.com/docupipe/contractscan/internal/common"
)

// Document is the persisted processing record for one file.
type Document struct {
	ID            string
	ContentHash   string
	FilePath      string
	FileName      string
	Status        constants.DocStatus
	QualityScore  int
	Strategy      string
	TextSource    string
	Corruption    string
	Confidence    float64
	NeedsReview   bool
	ReviewReasons string
	FieldsJSON    string
	PromptVariant string
	Error         string
	ProcessedAt   sql.NullTime
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DocumentStore persists documents through database/sql.
type DocumentStore struct {
	db     *sql.DB
	sb     sq.StatementBuilderType
	logger *slog.Logger
}

func NewDocumentStore(db *sql.DB, sb sq.StatementBuilderType, logger *slog.Logger) *DocumentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentStore{db: db, sb: sb, logger: logger}
}

// Upsert inserts the document or refreshes the existing row for the
// same content hash. Returns the stored row's ID.
func (s *DocumentStore) Upsert(ctx context.Context, doc *Document) (string, error) {
	now := time.Now().UTC()

	if existing, err := s.GetByHash(ctx, doc.ContentHash); err == nil {
		doc.ID = existing.ID
		query := s.sb.Update("documents").
			Set("file_path", doc.FilePath).
			Set("file_name", doc.FileName).
			Set("status", string(doc.Status)).
			Set("quality_score", doc.QualityScore).
			Set("strategy", doc.Strategy).
			Set("text_source", doc.TextSource).
			Set("corruption", doc.Corruption).
			Set("confidence", doc.Confidence).
			Set("needs_review", doc.NeedsReview).
			Set("review_reasons", doc.ReviewReasons).
			Set("fields_json", doc.FieldsJSON).
			Set("prompt_variant", doc.PromptVariant).
			Set("error", doc.Error).
			Set("processed_at", doc.ProcessedAt).
			Set("updated_at", now).
			Where(sq.Eq{"id": existing.ID})
		if _, err := query.RunWith(s.db).ExecContext(ctx); err != nil {
			return "", common.WrapSentinel(common.ErrDatabase, fmt.Sprintf("update document %s", existing.ID), err)
		}
		return existing.ID, nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return "", err
	}

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now
	query := s.sb.Insert("documents").
		Columns("id", "content_hash", "file_path", "file_name", "status",
			"quality_score", "strategy", "text_source", "corruption",
			"confidence", "needs_review", "review_reasons", "fields_json",
			"prompt_variant", "error", "processed_at", "created_at", "updated_at").
		Values(doc.ID, doc.ContentHash, doc.FilePath, doc.FileName, string(doc.Status),
			doc.QualityScore, doc.Strategy, doc.TextSource, doc.Corruption,
			doc.Confidence, doc.NeedsReview, doc.ReviewReasons, doc.FieldsJSON,
			doc.PromptVariant, doc.Error, doc.ProcessedAt, doc.CreatedAt, doc.UpdatedAt)
	if _, err := query.RunWith(s.db).ExecContext(ctx); err != nil {
		return "", common.WrapSentinel(common.ErrDatabase, "insert document", err)
	}
	return doc.ID, nil
}

// GetByHash looks a document up by content hash.
func (s *DocumentStore) GetByHash(ctx context.Context, hash string) (*Document, error) {
	query := s.sb.Select(documentColumns...).
		From("documents").
		Where(sq.Eq{"content_hash": hash})
	row := query.RunWith(s.db).QueryRowContext(ctx)
	return scanDocument(row, hash)
}

// ListByStatus returns documents in a given status, oldest first.
func (s *DocumentStore) ListByStatus(ctx context.Context, status constants.DocStatus, limit int) ([]*Document, error) {
	query := s.sb.Select(documentColumns...).
		From("documents").
		Where(sq.Eq{"status": string(status)}).
		OrderBy("created_at ASC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, common.WrapSentinel(common.ErrDatabase, "list documents", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Document
	for rows.Next() {
		doc, err := scanDocument(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapSentinel(common.ErrDatabase, "iterate documents", err)
	}
	return out, nil
}

var documentColumns = []string{
	"id", "content_hash", "file_path", "file_name", "status",
	"quality_score", "strategy", "text_source", "corruption",
	"confidence", "needs_review", "review_reasons", "fields_json",
	"prompt_variant", "error", "processed_at", "created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner, hash string) (*Document, error) {
	var doc Document
	var status string
	err := row.Scan(&doc.ID, &doc.ContentHash, &doc.FilePath, &doc.FileName, &status,
		&doc.QualityScore, &doc.Strategy, &doc.TextSource, &doc.Corruption,
		&doc.Confidence, &doc.NeedsReview, &doc.ReviewReasons, &doc.FieldsJSON,
		&doc.PromptVariant, &doc.Error, &doc.ProcessedAt, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.WrapSentinel(common.ErrNotFound, fmt.Sprintf("document %s", hash), err)
	}
	if err != nil {
		return nil, common.WrapSentinel(common.ErrDatabase, "scan document", err)
	}
	doc.Status = constants.DocStatus(status)
	return &doc, nil
}
