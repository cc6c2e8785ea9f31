package rules

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agext/levenshtein"
)

var (
	reISODate     = regexp.MustCompile(`(\d{4})[-_.](\d{1,2})[-_.](\d{1,2})`)
	reEuroDate    = regexp.MustCompile(`(\d{1,2})[-_.](\d{1,2})[-_.](\d{4})`)
	reCompactDate = regexp.MustCompile(`(?:^|\D)(20\d{2})(\d{2})(\d{2})(?:\D|$)`)
	reTextualDate = regexp.MustCompile(`(?i)(\d{1,2})[ _-]([a-z]{3,9})[ _-](\d{4})`)
)

var monthNames = []string{
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

// monthFromText resolves a month name, tolerating OCR and typing slips
// like "Mrach" or "Januray" via fuzzy matching.
func monthFromText(s string) (time.Month, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	best, bestScore := 0, 0.0
	for i, name := range monthNames {
		if strings.HasPrefix(name, s) && len(s) >= 3 {
			return time.Month(i + 1), true
		}
		if score := levenshtein.Similarity(s, name, levenshtein.NewParams()); score > bestScore {
			best, bestScore = i, score
		}
	}
	// 0.6 admits transposition slips like "Mrach" on short names.
	if len(s) >= 3 && bestScore >= 0.6 {
		return time.Month(best + 1), true
	}
	return 0, false
}

// DateFromFilename scans a filename for a plausible contract date and
// returns it as YYYY-MM-DD. Forms tried in order: ISO, European
// day-first, compact YYYYMMDD, and textual ("12 March 2024").
func DateFromFilename(name string) (string, bool) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))

	if m := reISODate.FindStringSubmatch(base); m != nil {
		if d, ok := buildDate(m[1], m[2], m[3]); ok {
			return d, true
		}
	}
	if m := reEuroDate.FindStringSubmatch(base); m != nil {
		if d, ok := buildDate(m[3], m[2], m[1]); ok {
			return d, true
		}
	}
	if m := reCompactDate.FindStringSubmatch(base); m != nil {
		if d, ok := buildDate(m[1], m[2], m[3]); ok {
			return d, true
		}
	}
	if m := reTextualDate.FindStringSubmatch(base); m != nil {
		if month, ok := monthFromText(m[2]); ok {
			if d, ok := buildDate(m[3], strconv.Itoa(int(month)), m[1]); ok {
				return d, true
			}
		}
	}
	return "", false
}

func buildDate(year, month, day string) (string, bool) {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if y < 1950 || y > 2100 || m < 1 || m > 12 || d < 1 || d > 31 {
		return "", false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if int(t.Month()) != m || t.Day() != d {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d), true
}

// filler tokens that never belong to a company name.
var fillerTokens = map[string]bool{
	"contract": true, "agreement": true, "signed": true, "executed": true,
	"final": true, "draft": true, "copy": true, "scan": true, "scanned": true,
	"nda": true, "version": true, "v1": true, "v2": true, "v3": true,
	"the": true, "and": true, "with": true, "for": true, "of": true,
}

// CompanyFromFilename guesses a counterparty name from the filename:
// strip the extension and any date, split on separators, drop filler
// tokens, and title-case what remains.
func CompanyFromFilename(name string) (string, bool) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	for _, re := range []*regexp.Regexp{reISODate, reEuroDate, reTextualDate} {
		base = re.ReplaceAllString(base, " ")
	}
	base = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(base)

	var kept []string
	for _, tok := range strings.Fields(base) {
		lower := strings.ToLower(tok)
		if fillerTokens[lower] || isNumeric(tok) {
			continue
		}
		kept = append(kept, titleCase(tok))
		if len(kept) >= 4 {
			break
		}
	}
	if len(kept) == 0 {
		return "", false
	}
	return strings.Join(kept, " "), true
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func titleCase(s string) string {
	if s == strings.ToUpper(s) {
		return s // keep acronyms and legal suffixes like GMBH
	}
	if len(s) == 0 {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
