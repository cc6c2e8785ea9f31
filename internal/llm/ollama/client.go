package ollama

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

// Client talks to a local Ollama daemon over its native /api/chat
// endpoint.
type Client struct {
	cfg    config.LLMConfig
	http   *http.Client
	logger *slog.Logger
}

func New(cfg config.LLMConfig, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
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

func (c *Client) Name() string { return "ollama" }

// SupportsBatch: the daemon serializes model access, so batching is
// just a loop and callers should not expect a speedup.
func (c *Client) SupportsBatch() bool { return false }

func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	lastUser := -1
	for i, m := range req.Messages {
		if m.Role == "user" {
			lastUser = i
		}
	}
	msgs := make([]map[string]any, 0, len(req.Messages))
	for i, m := range req.Messages {
		wire := map[string]any{"role": m.Role, "content": m.Content}
		// Page images ride on the document turn, not the worked example.
		if i == lastUser && len(req.Images) > 0 {
			wire["images"] = stripDataURLs(req.Images)
		}
		msgs = append(msgs, wire)
	}

	body := map[string]any{
		"model":    c.cfg.Model,
		"messages": msgs,
		"stream":   false,
		"options": map[string]any{
			"temperature": req.Temperature,
		},
	}
	if req.MaxTokens > 0 {
		body["options"].(map[string]any)["num_predict"] = req.MaxTokens
	}
	if req.ForceJSON {
		body["format"] = "json"
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/chat"
	raw, _, err := llm.SendJSON(ctx, c.http, endpoint, body, nil, c.logger)
	if err != nil {
		return llm.ChatResponse{}, llm.ClassifyTransportError(err)
	}

	var resp struct {
		Model   string `json:"model"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		PromptEvalCount int `json:"prompt_eval_count"`
		EvalCount       int `json:"eval_count"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return llm.ChatResponse{}, fmt.Errorf("%w: decode response: %v", llm.ErrMalformed, err)
	}
	if resp.Message.Content == "" {
		return llm.ChatResponse{}, fmt.Errorf("%w: empty response", llm.ErrMalformed)
	}
	return llm.ChatResponse{
		Content:          strings.TrimSpace(resp.Message.Content),
		Model:            resp.Model,
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
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

// stripDataURLs drops the data:<mime>;base64, prefix; the daemon wants
// bare base64.
func stripDataURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if i := strings.Index(u, ";base64,"); i >= 0 {
			u = u[i+len(";base64,"):]
		}
		out = append(out, u)
	}
	return out
}
