package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docupipe/contractscan/constants"
)

// maxPromptText bounds how much document text goes into the prompt.
// Contracts front-load the parties, dates, and title, so the head of
// the document carries most of the signal.
const maxPromptText = 8000

// ExtractRequest carries everything the prompt builder needs for one
// document.
type ExtractRequest struct {
	Text         string
	FilenameHint string
	Scanned      bool                // document went through OCR
	OwnEntities  []string            // operator's own company names, never the counterparty
	Hints        map[string][]string // field name -> corrective statements from the feedback loop
	Variant      string              // prompt variant label for A/B comparison
	Images       []string            // base64 page images for vision-capable models
}

// BuildSystemPrompt composes the extraction instructions: field
// definitions, the contract-type enum, the own-entity rule, and any
// adaptive hints. Hints are additive; an empty map produces the plain
// baseline prompt.
func BuildSystemPrompt(req ExtractRequest) string {
	parts := []string{
		"You are a contract analyst. Return ONLY JSON that matches the provided JSON Schema.",
		"Extract the counterparty ('party'): the OTHER company signing the contract, with its full legal name including suffixes like GmbH, Ltd, Inc, A.S.",
		"Use ISO-8601 dates (YYYY-MM-DD). 'signed_date' is the signature/execution date, 'start_date' the effective date, 'end_date' the expiry date.",
		"'contract_type' MUST be exactly one of: " + strings.Join(constants.ContractTypeStrings(), ", ") + ". If uncertain, use Other.",
		"'address' is the counterparty's registered address as written in the document; 'country' is the counterparty's country.",
		"'signature_status' describes who has signed: fully signed, counterparty signed, owner signed, or unsigned.",
		"'contract_name' is the document's own title, not a description you invent.",
	}

	if len(req.OwnEntities) > 0 {
		parts = append(parts,
			"The following companies are OUR OWN entities and must NEVER be returned as 'party': "+
				strings.Join(req.OwnEntities, "; ")+
				". If one of them appears, report it under 'own_entity' and pick the other signatory as 'party'.")
	}

	if req.Scanned {
		parts = append(parts,
			"The text comes from OCR of a scanned document and may contain recognition noise. "+
				"Prefer values that appear consistently; do not invent data to fill gaps.")
	}

	if hints := formatHints(req.Hints); hints != "" {
		parts = append(parts, "Common extraction mistakes to avoid: "+hints)
	}

	parts = append(parts, "Never output null. If a field is not present in the document, omit it.")
	return strings.Join(parts, " ")
}

// formatHints flattens the per-field hint lists into one instruction
// block, field order stable so identical hints hash identically.
func formatHints(hints map[string][]string) string {
	if len(hints) == 0 {
		return ""
	}
	var parts []string
	for _, field := range constants.FieldNames {
		for _, h := range hints[field] {
			parts = append(parts, h)
		}
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages the filename hint and the (truncated)
// document text.
func BuildUserPrompt(req ExtractRequest) string {
	var b strings.Builder
	if name := strings.TrimSpace(req.FilenameHint); name != "" {
		b.WriteString("Filename: ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	text := strings.TrimSpace(req.Text)
	b.WriteString("\nContract text")
	if len(text) > maxPromptText {
		fmt.Fprintf(&b, " (first %d chars)", maxPromptText)
		text = text[:maxPromptText]
	}
	b.WriteString(":\n")
	b.WriteString(text)
	b.WriteString("\n\nReturn ONLY JSON that matches the provided schema.")
	return b.String()
}

// One worked example keeps small local models anchored to the output
// shape. Kept short so it costs little context.
const (
	fewShotInput = "Filename: Acme_NDA_2024-03-12.pdf\n\nContract text:\n" +
		"MUTUAL NON-DISCLOSURE AGREEMENT, made on 12 March 2024, between " +
		"Acme Corporation Ltd, 12 Harbour Road, Dublin 2, Ireland, and the undersigned. " +
		"Signed by both parties.\n\nReturn ONLY JSON that matches the provided schema."
	fewShotOutput = `{"party":"Acme Corporation Ltd","contract_name":"Mutual Non-Disclosure Agreement",` +
		`"contract_type":"NDA","address":"12 Harbour Road, Dublin 2","country":"Ireland",` +
		`"signed_date":"2024-03-12","signature_status":"Fully Signed","confidence":0.95}`
)

// BuildMessages assembles the full chat exchange: instructions, one
// worked example, the document, then the schema as a trailing system
// turn the way local OpenAI-compatible servers expect.
func BuildMessages(req ExtractRequest, schema map[string]any) []Message {
	return []Message{
		{Role: "system", Content: BuildSystemPrompt(req)},
		{Role: "user", Content: fewShotInput},
		{Role: "assistant", Content: fewShotOutput},
		{Role: "user", Content: BuildUserPrompt(req)},
		{Role: "system", Content: "JSON Schema:\n" + mustJSON(schema)},
	}
}

// BuildRepairMessages asks the model to fix its own malformed output.
// Used at most once per document.
func BuildRepairMessages(badOutput string, schema map[string]any) []Message {
	return []Message{
		{Role: "system", Content: "You repair malformed JSON. Return ONLY the corrected JSON object, no commentary."},
		{Role: "user", Content: "The following output should match this JSON Schema but does not parse or validate:\n\n" +
			badOutput + "\n\nJSON Schema:\n" + mustJSON(schema) + "\n\nReturn the corrected JSON object."},
	}
}

// PromptHash identifies a prompt configuration for caching: same text,
// hints, and variant produce the same inference key.
func PromptHash(msgs []Message) string {
	h := sha256.New()
	for _, m := range msgs {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
