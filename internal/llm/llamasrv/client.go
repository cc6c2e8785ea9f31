package llamasrv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/docupipe/contractscan/internal/config"
	"github.com/docupipe/contractscan/internal/llm"
)

// Client talks to a llama.cpp server over its native /completion
// endpoint. The server takes a flat prompt, so chat turns are folded
// into one tagged transcript.
type Client struct {
	cfg    config.LLMConfig
	http   *http.Client
	logger *slog.Logger
}

func New(cfg config.LLMConfig, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (c *Client) Name() string { return "llamaserver" }

// SupportsBatch: a single-slot server; batching is a loop.
func (c *Client) SupportsBatch() bool { return false }

func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	body := map[string]any{
		"prompt":       flattenMessages(req.Messages),
		"temperature":  req.Temperature,
		"cache_prompt": true,
	}
	if req.MaxTokens > 0 {
		body["n_predict"] = req.MaxTokens
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/completion"
	raw, _, err := llm.SendJSON(ctx, c.http, endpoint, body, nil, c.logger)
	if err != nil {
		return llm.ChatResponse{}, llm.ClassifyTransportError(err)
	}

	var resp struct {
		Content string `json:"content"`
		Model   string `json:"model"`
		Timings struct {
			PromptN    int `json:"prompt_n"`
			PredictedN int `json:"predicted_n"`
		} `json:"timings"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return llm.ChatResponse{}, fmt.Errorf("%w: decode response: %v", llm.ErrMalformed, err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return llm.ChatResponse{}, fmt.Errorf("%w: empty completion", llm.ErrMalformed)
	}
	return llm.ChatResponse{
		Content:          strings.TrimSpace(resp.Content),
		Model:            resp.Model,
		PromptTokens:     resp.Timings.PromptN,
		CompletionTokens: resp.Timings.PredictedN,
	}, nil
}

// ChatBatch loops sequentially; see SupportsBatch.
func (c *Client) ChatBatch(ctx context.Context, reqs []llm.ChatRequest) ([]llm.ChatResponse, error) {
	out := make([]llm.ChatResponse, len(reqs))
	for i, req := range reqs {
		resp, err := c.Chat(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
		out[i] = resp
	}
	return out, nil
}

// flattenMessages folds chat turns into a single prompt with role tags
// and a trailing assistant cue.
func flattenMessages(msgs []llm.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case "system":
			b.WriteString("### Instructions:\n")
		case "user":
			b.WriteString("### Input:\n")
		default:
			b.WriteString("### Response:\n")
		}
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("### Response:\n")
	return b.String()
}
