package llm

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Message is one chat turn sent to the inference backend.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// ChatRequest is a backend-neutral inference request.
type ChatRequest struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
	ForceJSON   bool     // ask the backend for a JSON-constrained response when supported
	Images      []string // base64 data URLs for vision-capable models
}

// ChatResponse carries the raw model output.
type ChatResponse struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Backend abstracts a local inference server. Implementations live in
// subpackages so swapping servers never touches the pipeline.
type Backend interface {
	// Chat runs one inference call.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatBatch runs several requests, returning responses in request
	// order. Backends without native batching loop over Chat.
	ChatBatch(ctx context.Context, reqs []ChatRequest) ([]ChatResponse, error)
	// SupportsBatch reports whether ChatBatch is more than a loop.
	SupportsBatch() bool
	Name() string
}

// Sentinel failure classes. The orchestrator retries ErrTimeout and
// ErrConnection; ErrMalformed gets a single repair re-prompt and
// everything else fails the document.
var (
	ErrTimeout    = errors.New("inference call timed out")
	ErrConnection = errors.New("inference server unreachable")
	ErrMalformed  = errors.New("model returned malformed output")
)

// Retryable reports whether a fresh attempt could plausibly succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnection)
}

// ClassifyTransportError folds raw HTTP/network failures into the
// sentinel classes, preserving the original error for %w chains.
func ClassifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return errors.Join(ErrTimeout, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset") {
		return errors.Join(ErrConnection, err)
	}
	return err
}
