package feedback

import "strings"

// Pattern labels classify how an extraction went wrong. They aggregate
// across corrections; five identical labels on a field turn into a
// prompt hint.
const (
	PatternMissingField       = "missing_field"
	PatternIncompleteExtract  = "incomplete_extraction"
	PatternTruncatedText      = "truncated_text"
	PatternFormattingIssue    = "formatting_issue"
	PatternOwnEntityConfusion = "own_entity_confusion"
	PatternOther              = "other"
)

// ClassifyCorrection labels a human correction. ownEntity reports
// whether the original value names one of the operator's own companies.
func ClassifyCorrection(original, corrected string, ownEntity bool) string {
	orig := strings.TrimSpace(original)
	corr := strings.TrimSpace(corrected)

	if orig == "" {
		return PatternMissingField
	}
	if ownEntity {
		return PatternOwnEntityConfusion
	}
	if normalizeLoose(orig) == normalizeLoose(corr) {
		return PatternFormattingIssue
	}
	if corr != "" && strings.HasPrefix(normalizeLoose(corr), normalizeLoose(orig)) {
		return PatternTruncatedText
	}
	if corr != "" && strings.Contains(normalizeLoose(corr), normalizeLoose(orig)) {
		return PatternIncompleteExtract
	}
	return PatternOther
}

// normalizeLoose compares values ignoring case, punctuation, and
// whitespace runs.
func normalizeLoose(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// hintTemplates turn a repeated pattern into a short corrective
// statement for the prompt. Keyed by pattern, parameterized by field.
var hintTemplates = map[string]string{
	PatternMissingField:       "The '%s' field is often present but missed; search the whole document before omitting it.",
	PatternIncompleteExtract:  "The '%s' field is often extracted partially; return the complete value as written.",
	PatternTruncatedText:      "The '%s' value is often cut off; include the full text through its natural end.",
	PatternFormattingIssue:    "Format '%s' exactly as specified; do not add punctuation or change casing.",
	PatternOwnEntityConfusion: "Do not return our own entity in '%s'; pick the other signatory.",
	PatternOther:              "Double-check the '%s' field against the document before answering.",
}
