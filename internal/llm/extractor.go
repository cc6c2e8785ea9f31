package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docupipe/contractscan/internal/config"
	"github.com/docupipe/contractscan/internal/contract"
)

// FieldExtractor is the interface the pipeline depends on.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, req ExtractRequest) (contract.Fields, []byte /*rawJSON*/, error)
}

// Extractor runs prompt building, inference, JSON recovery, and schema
// validation over any Backend. Transport retries belong to the caller;
// the single repair re-prompt for malformed JSON lives here because it
// needs the schema.
type Extractor struct {
	backend Backend
	cfg     config.LLMConfig
	logger  *slog.Logger
}

func NewExtractor(backend Backend, cfg config.LLMConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{backend: backend, cfg: cfg, logger: logger}
}

func (e *Extractor) ExtractFields(ctx context.Context, req ExtractRequest) (contract.Fields, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	e.logger.Info("llm.extract.start",
		"req_id", rid,
		"backend", e.backend.Name(),
		"model", e.cfg.Model,
		"text_len", len(req.Text),
		"scanned", req.Scanned,
		"hint_fields", len(req.Hints),
		"images", len(req.Images),
		"variant", req.Variant,
	)

	schema := BuildContractJSONSchema()
	resp, err := e.backend.Chat(ctx, ChatRequest{
		Messages:    BuildMessages(req, schema),
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
		ForceJSON:   true,
		Images:      req.Images,
	})
	if err != nil {
		e.logger.Error("llm.extract.chat_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return contract.Fields{}, nil, err
	}

	clean, err := e.recoverJSON(ctx, rid, resp.Content, schema)
	if err != nil {
		e.logger.Error("llm.extract.invalid_output",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return contract.Fields{}, []byte(resp.Content), err
	}

	out, err := DecodeFields(clean)
	if err != nil {
		return contract.Fields{}, clean, err
	}

	e.logger.Info("llm.extract.ok",
		"req_id", rid,
		"party", out.Party,
		"type", out.ContractType,
		"signed", out.SignedDate,
		"confidence", out.ModelConfidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, clean, nil
}

// recoverJSON extracts, sanitizes, and validates the model reply. On
// failure it asks the model once to repair its own output, then gives
// up with ErrMalformed.
func (e *Extractor) recoverJSON(ctx context.Context, rid, content string, schema map[string]any) ([]byte, error) {
	clean, err := e.parseAndValidate(rid, content, schema)
	if err == nil {
		return clean, nil
	}

	e.logger.Warn("llm.extract.repair_attempt", "req_id", rid, "error", err)
	resp, chatErr := e.backend.Chat(ctx, ChatRequest{
		Messages:    BuildRepairMessages(content, schema),
		Temperature: 0,
		MaxTokens:   e.cfg.MaxTokens,
		ForceJSON:   true,
	})
	if chatErr != nil {
		return nil, fmt.Errorf("repair call failed: %w", chatErr)
	}

	clean, repairErr := e.parseAndValidate(rid, resp.Content, schema)
	if repairErr != nil {
		return nil, fmt.Errorf("%w: repair did not help: %v", ErrMalformed, repairErr)
	}
	e.logger.Info("llm.extract.repair_ok", "req_id", rid)
	return clean, nil
}

func (e *Extractor) parseAndValidate(rid, content string, schema map[string]any) ([]byte, error) {
	raw, err := ExtractJSON(content)
	if err != nil {
		return nil, err
	}
	clean, dropped, err := SanitizeFields([]byte(raw))
	if err != nil {
		return nil, err
	}
	if len(dropped) > 0 {
		e.logger.Warn("llm.extract.sanitize_applied", "req_id", rid, "dropped", dropped)
	}
	if err := ValidateJSONAgainstSchema(schema, clean); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return clean, nil
}
