package rules

import "strings"

// countryKeywords maps lowercase address fragments onto a country.
// Checked against the folded address; first match in declaration order
// wins, so specific fragments go before generic ones.
var countryKeywords = []struct {
	fragment string
	country  string
}{
	{"deutschland", "Germany"},
	{"germany", "Germany"},
	{"berlin", "Germany"},
	{"munich", "Germany"},
	{"munchen", "Germany"},
	{"hamburg", "Germany"},
	{"frankfurt", "Germany"},

	{"turkiye", "Turkey"},
	{"turkey", "Turkey"},
	{"istanbul", "Turkey"},
	{"ankara", "Turkey"},
	{"izmir", "Turkey"},

	{"united states", "United States"},
	{"usa", "United States"},
	{"u.s.a", "United States"},
	{"springfield", "United States"},
	{"new york", "United States"},
	{"california", "United States"},
	{"delaware", "United States"},
	{"texas", "United States"},

	{"united kingdom", "United Kingdom"},
	{"england", "United Kingdom"},
	{"london", "United Kingdom"},
	{"manchester", "United Kingdom"},

	{"netherlands", "Netherlands"},
	{"amsterdam", "Netherlands"},
	{"rotterdam", "Netherlands"},

	{"france", "France"},
	{"paris", "France"},
	{"lyon", "France"},

	{"switzerland", "Switzerland"},
	{"zurich", "Switzerland"},
	{"geneva", "Switzerland"},

	{"austria", "Austria"},
	{"vienna", "Austria"},
	{"wien", "Austria"},

	{"italy", "Italy"},
	{"milan", "Italy"},
	{"milano", "Italy"},
	{"rome", "Italy"},

	{"spain", "Spain"},
	{"madrid", "Spain"},
	{"barcelona", "Spain"},

	{"poland", "Poland"},
	{"warsaw", "Poland"},

	{"china", "China"},
	{"shanghai", "China"},
	{"beijing", "China"},
	{"shenzhen", "China"},

	{"japan", "Japan"},
	{"tokyo", "Japan"},

	{"india", "India"},
	{"mumbai", "India"},
	{"bangalore", "India"},
}

// knownCountries is the reference list for validating extracted country
// values, folded lowercase. Aliases map onto the same entry.
var knownCountries = map[string]bool{}

func init() {
	names := []string{
		"germany", "turkey", "turkiye", "united states", "usa", "u.s.a",
		"united states of america", "united kingdom", "uk", "great britain",
		"netherlands", "the netherlands", "france", "switzerland", "austria",
		"italy", "spain", "poland", "china", "japan", "india",
		"ireland", "belgium", "luxembourg", "portugal", "greece",
		"sweden", "norway", "denmark", "finland", "iceland",
		"czech republic", "czechia", "slovakia", "hungary", "romania",
		"bulgaria", "croatia", "slovenia", "serbia", "ukraine", "estonia",
		"latvia", "lithuania", "russia", "canada", "mexico", "brazil",
		"argentina", "chile", "colombia", "australia", "new zealand",
		"south korea", "korea", "taiwan", "hong kong", "singapore",
		"malaysia", "indonesia", "thailand", "vietnam", "philippines",
		"israel", "saudi arabia", "united arab emirates", "uae", "qatar",
		"kuwait", "egypt", "morocco", "south africa", "nigeria", "kenya",
		"pakistan", "bangladesh",
	}
	for _, n := range names {
		knownCountries[n] = true
	}
}

// KnownCountry reports whether a country value matches the reference
// list, ignoring case, accents, and surrounding whitespace.
func KnownCountry(name string) bool {
	folded := strings.TrimSpace(strings.ToLower(foldASCII(name)))
	return knownCountries[strings.Trim(folded, ".")]
}

// inferCountry guesses the country from an address. Empty result means
// no keyword matched.
func inferCountry(address string) string {
	addr := strings.ToLower(foldASCII(address))
	if addr == "" {
		return ""
	}
	for _, kw := range countryKeywords {
		if strings.Contains(addr, kw.fragment) {
			return kw.country
		}
	}
	return ""
}
