package extract

import (
	"context"
	"errors"
	"strings"
)

// Corruption classifies why a PDF could not be read cleanly. The classes
// feed the batch corruption summary so operators can see which failure
// modes dominate a document set.
type Corruption string

const (
	CorruptionNone          Corruption = ""
	CorruptionTokenOverflow Corruption = "token_overflow"
	CorruptionMissingEOF    Corruption = "missing_eof"
	CorruptionBrokenXref    Corruption = "broken_xref"
	CorruptionNoStartxref   Corruption = "missing_startxref"
	CorruptionCorruptObject Corruption = "corrupt_object"
	CorruptionUnknown       Corruption = "other"
)

// Recoverable reports whether the raster path is worth trying after the
// text layer failed with this class. Structural damage to the xref table
// breaks rendering too, so those classes fail fast.
func (c Corruption) Recoverable() bool {
	switch c {
	case CorruptionTokenOverflow, CorruptionCorruptObject, CorruptionMissingEOF:
		return true
	default:
		return false
	}
}

// stderr fragments poppler emits per damage class. Matching is
// case-insensitive and first-match-wins in declaration order.
var corruptionPatterns = []struct {
	fragment string
	class    Corruption
}{
	{"token too large", CorruptionTokenOverflow},
	{"end of file is not %%eof", CorruptionMissingEOF},
	{"couldn't find trailer dictionary", CorruptionBrokenXref},
	{"xref table", CorruptionBrokenXref},
	{"couldn't read xref", CorruptionBrokenXref},
	{"couldn't find 'startxref'", CorruptionNoStartxref},
	{"startxref", CorruptionNoStartxref},
	{"invalid object", CorruptionCorruptObject},
	{"dictionary key must be a name", CorruptionCorruptObject},
	{"illegal character", CorruptionCorruptObject},
}

// classifyStderr maps tool stderr onto a corruption class. Empty stderr
// or unmatched output yields CorruptionNone; callers decide whether the
// command actually failed.
func classifyStderr(stderr []byte) Corruption {
	if len(stderr) == 0 {
		return CorruptionNone
	}
	lower := strings.ToLower(string(stderr))
	for _, p := range corruptionPatterns {
		if strings.Contains(lower, p.fragment) {
			return p.class
		}
	}
	return CorruptionNone
}

// classifyFailure classifies an extraction error when no stderr was
// available. Cancellation is not corruption.
func classifyFailure(err error) Corruption {
	if err == nil {
		return CorruptionNone
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CorruptionNone
	}
	if c := classifyStderr([]byte(err.Error())); c != CorruptionNone {
		return c
	}
	return CorruptionUnknown
}
