package rules

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// asciiFold strips diacritics so "Müller" and "Muller" compare equal.
var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// ligatures that NFD leaves alone.
var ligatureReplacer = strings.NewReplacer("ß", "ss", "ẞ", "SS", "æ", "ae", "Æ", "AE", "œ", "oe", "Œ", "OE", "ı", "i")

func foldASCII(s string) string {
	s = ligatureReplacer.Replace(s)
	out, _, err := transform.String(asciiFold, s)
	if err != nil {
		return s
	}
	return out
}

// legal suffixes stripped before company comparison. Order matters:
// longer forms first so "limited" goes before "ltd".
var legalSuffixes = []string{
	"incorporated", "corporation", "limited", "gmbh & co. kg", "gmbh & co kg",
	"a.s.", "a.ş.", "s.a.r.l.", "s.a.", "b.v.", "n.v.", "s.p.a.",
	"gmbh", "ltd.", "ltd", "llc", "inc.", "inc", "corp.", "corp",
	"co.", "kg", "ag", "plc", "oy", "ab", "as", "sa", "srl",
}

// normalizeCompany lowercases, folds diacritics, strips punctuation and
// legal suffixes. Used only for comparison; displayed values keep their
// original form.
func normalizeCompany(s string) string {
	s = strings.ToLower(foldASCII(strings.TrimSpace(s)))
	for _, suffix := range legalSuffixes {
		s = strings.TrimSuffix(strings.TrimSpace(s), suffix)
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// mojibake sequences produced when UTF-8 text is decoded as Latin-1.
// Turkish and German contract scans hit these constantly.
var mojibakeReplacer = strings.NewReplacer(
	"Ã¤", "ä", "Ã¶", "ö", "Ã¼", "ü", "ÃŸ", "ß",
	"Ã„", "Ä", "Ã–", "Ö", "Ãœ", "Ü",
	"Ã§", "ç", "ÄŸ", "ğ", "Ä±", "ı", "ÅŸ", "ş",
	"Ã‡", "Ç", "Äž", "Ğ", "Å", "Ş",
	"Ã©", "é", "Ã¨", "è", "Ã ", "à", "Ã¡", "á",
	"â€™", "'", "â€œ", "\"", "â€", "\"", "â€“", "-",
	"Â", "",
)

// repairMojibake undoes the most common double-encoding artifacts.
func repairMojibake(s string) string {
	if !strings.Contains(s, "Ã") && !strings.Contains(s, "â€") && !strings.Contains(s, "Â") {
		return s
	}
	return mojibakeReplacer.Replace(s)
}

// cleanContractName tidies a model-provided title: collapse whitespace,
// drop file-ish artifacts, trim trailing punctuation.
func cleanContractName(s string) string {
	s = strings.TrimSpace(repairMojibake(s))
	for _, ext := range []string{".pdf", ".PDF", ".docx", ".doc"} {
		s = strings.TrimSuffix(s, ext)
	}
	s = strings.NewReplacer("_", " ", "\n", " ", "\t", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, " .,;:-")
	return s
}
