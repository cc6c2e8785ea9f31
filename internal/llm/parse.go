package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/docupipe/contractscan/constants"
	"github.com/docupipe/contractscan/internal/contract"
)

var reDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ExtractJSON pulls the JSON object out of a model reply. Local models
// often wrap output in code fences or prepend prose, so we take the
// outermost brace pair.
func ExtractJSON(content string) (string, error) {
	s := strings.TrimSpace(content)
	if fence := strings.Index(s, "```"); fence >= 0 {
		s = s[fence+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object in reply", ErrMalformed)
	}
	return s[start : end+1], nil
}

// SanitizeFields normalizes model output so strict schema validation
// does not reject recoverable sloppiness. Only optional fields are
// dropped; required fields stay and fail validation honestly.
func SanitizeFields(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var dropped []string

	for _, k := range []string{"party", "contract_name", "contract_type", "address", "country", "signature_status", "own_entity"} {
		if v, ok := m[k]; ok {
			s, isStr := v.(string)
			if !isStr || strings.TrimSpace(s) == "" || strings.EqualFold(strings.TrimSpace(s), "null") {
				delete(m, k)
				dropped = append(dropped, k)
				continue
			}
			m[k] = strings.TrimSpace(s)
		}
	}

	// contract_type: fold synonyms onto the enum so "NDA" or
	// "non-disclosure agreement" survive validation.
	if v, ok := m["contract_type"].(string); ok {
		if ct, ok := constants.CanonicalizeContractType(v); ok {
			m["contract_type"] = string(ct)
		} else {
			m["contract_type"] = string(constants.OtherContract)
		}
	}

	// dates: optional ones get dropped when unparseable.
	for _, k := range []string{"signed_date", "start_date", "end_date"} {
		if v, ok := m[k]; ok {
			s, isStr := v.(string)
			if !isStr {
				delete(m, k)
				dropped = append(dropped, k)
				continue
			}
			s = strings.TrimSpace(s)
			if s == "" || !reDate.MatchString(s) {
				delete(m, k)
				dropped = append(dropped, k)
				continue
			}
			m[k] = s
		}
	}

	if v, ok := m["confidence"]; ok {
		if f, isNum := v.(float64); !isNum || f < 0 || f > 1 {
			delete(m, "confidence")
			dropped = append(dropped, "confidence")
		}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, nil, err
	}
	return b, dropped, nil
}

// DecodeFields parses validated JSON into the typed field struct.
func DecodeFields(raw []byte) (contract.Fields, error) {
	var out contract.Fields
	if err := json.Unmarshal(raw, &out); err != nil {
		return contract.Fields{}, fmt.Errorf("%w: unmarshal fields: %v", ErrMalformed, err)
	}
	return out, nil
}
