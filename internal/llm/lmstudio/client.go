package lmstudio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docupipe/contractscan/internal/config"
	"github.com/docupipe/contractscan/internal/llm"
)

// Client talks to an LM Studio local server over its OpenAI-compatible
// chat/completions endpoint.
type Client struct {
	cfg    config.LLMConfig
	http   *http.Client
	logger *slog.Logger
}

func New(cfg config.LLMConfig, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:1234/v1"
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

func (c *Client) Name() string { return "lmstudio" }

// SupportsBatch: the server handles concurrent requests well, so the
// batch path fans out in parallel instead of looping.
func (c *Client) SupportsBatch() bool { return true }

func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": req.Temperature,
		"messages":    toWireMessages(req),
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.ForceJSON {
		body["response_format"] = map[string]any{"type": "json_object"}
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, _, err := llm.SendJSON(ctx, c.http, endpoint, body, nil, c.logger)
	if err != nil {
		return llm.ChatResponse{}, llm.ClassifyTransportError(err)
	}

	var cc struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return llm.ChatResponse{}, fmt.Errorf("%w: decode response: %v", llm.ErrMalformed, err)
	}
	if len(cc.Choices) == 0 {
		return llm.ChatResponse{}, fmt.Errorf("%w: no choices in response", llm.ErrMalformed)
	}
	return llm.ChatResponse{
		Content:          strings.TrimSpace(cc.Choices[0].Message.Content),
		Model:            cc.Model,
		PromptTokens:     cc.Usage.PromptTokens,
		CompletionTokens: cc.Usage.CompletionTokens,
	}, nil
}

// ChatBatch fans the requests out concurrently and reassembles the
// responses in request order. One failure fails the batch; callers that
// want isolation submit per document.
func (c *Client) ChatBatch(ctx context.Context, reqs []llm.ChatRequest) ([]llm.ChatResponse, error) {
	out := make([]llm.ChatResponse, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := c.Chat(gctx, req)
			if err != nil {
				return fmt.Errorf("batch item %d: %w", i, err)
			}
			out[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// toWireMessages converts to the OpenAI wire shape, attaching images to
// the last user turn (the document itself) as multimodal content parts.
func toWireMessages(req llm.ChatRequest) []map[string]any {
	lastUser := -1
	for i, m := range req.Messages {
		if m.Role == "user" {
			lastUser = i
		}
	}
	msgs := make([]map[string]any, 0, len(req.Messages))
	for i, m := range req.Messages {
		if i == lastUser && len(req.Images) > 0 {
			parts := []map[string]any{{"type": "text", "text": m.Content}}
			for _, img := range req.Images {
				parts = append(parts, map[string]any{
					"type":      "image_url",
					"image_url": map[string]any{"url": img},
				})
			}
			msgs = append(msgs, map[string]any{"role": m.Role, "content": parts})
			continue
		}
		msgs = append(msgs, map[string]any{"role": m.Role, "content": m.Content})
	}
	return msgs
}
