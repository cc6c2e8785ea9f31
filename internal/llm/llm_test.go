package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docupipe/contractscan/internal/config"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"bare object", `{"party":"Acme"}`, `{"party":"Acme"}`, false},
		{"code fence", "```json\n{\"party\":\"Acme\"}\n```", `{"party":"Acme"}`, false},
		{"fence without language", "```\n{\"party\":\"Acme\"}\n```", `{"party":"Acme"}`, false},
		{"prose prefix", `Here is the result: {"party":"Acme"} Done.`, `{"party":"Acme"}`, false},
		{"no object", "I could not find any contract.", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.content)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeFields(t *testing.T) {
	in := `{
		"party": "  Acme GmbH  ",
		"contract_type": "non-disclosure agreement",
		"signed_date": "2024-03-12",
		"start_date": "12.03.2024",
		"end_date": "",
		"address": "null",
		"confidence": 0.85
	}`
	out, dropped, err := SanitizeFields([]byte(in))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))

	assert.Equal(t, "Acme GmbH", m["party"])
	assert.Equal(t, "NDA", m["contract_type"])
	assert.Equal(t, "2024-03-12", m["signed_date"])
	assert.NotContains(t, m, "start_date", "non-ISO date must be dropped")
	assert.NotContains(t, m, "end_date")
	assert.NotContains(t, m, "address")
	assert.Contains(t, dropped, "start_date")
	assert.Contains(t, dropped, "address")
}

func TestSanitizeFieldsUnknownType(t *testing.T) {
	out, _, err := SanitizeFields([]byte(`{"party":"X Corp","contract_type":"something weird"}`))
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	assert.Equal(t, "Other", m["contract_type"])
}

func TestSchemaValidation(t *testing.T) {
	schema := BuildContractJSONSchema()

	good := `{"party":"Acme GmbH","contract_type":"NDA","signed_date":"2024-01-15"}`
	assert.NoError(t, ValidateJSONAgainstSchema(schema, []byte(good)))

	missingParty := `{"contract_type":"NDA"}`
	assert.Error(t, ValidateJSONAgainstSchema(schema, []byte(missingParty)))

	badDate := `{"party":"Acme","contract_type":"NDA","signed_date":"15.01.2024"}`
	assert.Error(t, ValidateJSONAgainstSchema(schema, []byte(badDate)))
}

func TestBuildSystemPromptHints(t *testing.T) {
	base := BuildSystemPrompt(ExtractRequest{})
	withHints := BuildSystemPrompt(ExtractRequest{
		Hints: map[string][]string{
			"party": {"The 'party' field is often extracted partially; return the complete value as written."},
		},
	})

	assert.NotContains(t, base, "Common extraction mistakes")
	assert.Contains(t, withHints, "Common extraction mistakes")
	assert.Contains(t, withHints, "complete value as written")
}

func TestBuildSystemPromptScannedCaveat(t *testing.T) {
	p := BuildSystemPrompt(ExtractRequest{Scanned: true})
	assert.Contains(t, p, "OCR")

	own := BuildSystemPrompt(ExtractRequest{OwnEntities: []string{"Docupipe GmbH"}})
	assert.Contains(t, own, "Docupipe GmbH")
	assert.Contains(t, own, "NEVER")
}

func TestPromptHashStable(t *testing.T) {
	req := ExtractRequest{
		Text:  "some contract",
		Hints: map[string][]string{"party": {"hint a"}, "address": {"hint b"}},
	}
	schema := BuildContractJSONSchema()

	h1 := PromptHash(BuildMessages(req, schema))
	h2 := PromptHash(BuildMessages(req, schema))
	assert.Equal(t, h1, h2, "same inputs must produce the same fingerprint")

	req.Text = "different contract"
	h3 := PromptHash(BuildMessages(req, schema))
	assert.NotEqual(t, h1, h3)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyTransportError(t *testing.T) {
	var nerr net.Error = timeoutErr{}
	assert.ErrorIs(t, ClassifyTransportError(context.DeadlineExceeded), ErrTimeout)
	assert.ErrorIs(t, ClassifyTransportError(fmt.Errorf("send: %w", nerr)), ErrTimeout)
	assert.ErrorIs(t, ClassifyTransportError(errors.New("dial tcp: connection refused")), ErrConnection)

	other := errors.New("http 500")
	assert.Equal(t, other, ClassifyTransportError(other))
	assert.False(t, Retryable(other))
	assert.True(t, Retryable(ErrTimeout))
	assert.True(t, Retryable(ErrConnection))
}

// scriptedBackend returns canned replies in order and remembers the
// last request it saw.
type scriptedBackend struct {
	replies []string
	errs    []error
	calls   int
	last    ChatRequest
}

func (s *scriptedBackend) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	s.last = req
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return ChatResponse{}, s.errs[i]
	}
	if i >= len(s.replies) {
		return ChatResponse{}, errors.New("no more scripted replies")
	}
	return ChatResponse{Content: s.replies[i]}, nil
}

func (s *scriptedBackend) ChatBatch(ctx context.Context, reqs []ChatRequest) ([]ChatResponse, error) {
	out := make([]ChatResponse, len(reqs))
	for i := range reqs {
		resp, err := s.Chat(ctx, reqs[i])
		if err != nil {
			return nil, err
		}
		out[i] = resp
	}
	return out, nil
}

func (s *scriptedBackend) SupportsBatch() bool { return false }
func (s *scriptedBackend) Name() string        { return "scripted" }

func TestExtractorHappyPath(t *testing.T) {
	backend := &scriptedBackend{replies: []string{
		`{"party":"Acme GmbH","contract_type":"NDA","signed_date":"2024-03-12","confidence":0.9}`,
	}}
	ex := NewExtractor(backend, config.LLMConfig{Model: "test"}, nil)

	fields, raw, err := ex.ExtractFields(context.Background(), ExtractRequest{Text: "contract body"})
	require.NoError(t, err)
	assert.Equal(t, "Acme GmbH", fields.Party)
	assert.Equal(t, "NDA", fields.ContractType)
	assert.Equal(t, "2024-03-12", fields.SignedDate)
	assert.InDelta(t, 0.9, float64(fields.ModelConfidence), 0.001)
	assert.NotEmpty(t, raw)
	assert.Equal(t, 1, backend.calls)
}

func TestExtractorForwardsImages(t *testing.T) {
	backend := &scriptedBackend{replies: []string{
		`{"party":"Acme GmbH","contract_type":"NDA"}`,
	}}
	ex := NewExtractor(backend, config.LLMConfig{Model: "test"}, nil)

	_, _, err := ex.ExtractFields(context.Background(), ExtractRequest{
		Text:   "contract body",
		Images: []string{"data:image/png;base64,cGFnZQ=="},
	})
	require.NoError(t, err)
	require.Len(t, backend.last.Images, 1, "page images reach the backend request")
}

func TestExtractorRepairsMalformedOutput(t *testing.T) {
	backend := &scriptedBackend{replies: []string{
		`the contract is between {"party":"Acme GmbH","contract_type":`, // truncated
		`{"party":"Acme GmbH","contract_type":"NDA"}`,
	}}
	ex := NewExtractor(backend, config.LLMConfig{Model: "test"}, nil)

	fields, _, err := ex.ExtractFields(context.Background(), ExtractRequest{Text: "contract body"})
	require.NoError(t, err)
	assert.Equal(t, "Acme GmbH", fields.Party)
	assert.Equal(t, 2, backend.calls, "exactly one repair re-prompt")
}

func TestExtractorGivesUpAfterFailedRepair(t *testing.T) {
	backend := &scriptedBackend{replies: []string{
		`no json here at all`,
		`still no json`,
	}}
	ex := NewExtractor(backend, config.LLMConfig{Model: "test"}, nil)

	_, _, err := ex.ExtractFields(context.Background(), ExtractRequest{Text: "contract body"})
	require.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, 2, backend.calls)
}

func TestExtractorPropagatesTransportErrors(t *testing.T) {
	backend := &scriptedBackend{errs: []error{ErrTimeout}}
	ex := NewExtractor(backend, config.LLMConfig{Model: "test"}, nil)

	_, _, err := ex.ExtractFields(context.Background(), ExtractRequest{Text: "x"})
	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, Retryable(err))
}

func TestFlattenHintsOrderStable(t *testing.T) {
	hints := map[string][]string{
		"signed_date": {"date hint"},
		"party":       {"party hint"},
	}
	got := formatHints(hints)
	assert.Less(t, strings.Index(got, "party hint"), strings.Index(got, "date hint"),
		"hints follow canonical field order, not map order")
}
