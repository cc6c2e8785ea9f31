package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry holds the operator's curated company knowledge: canonical
// counterparty names for fuzzy correction, and the operator's own
// entities which must never surface as the counterparty.
type Registry struct {
	// Companies maps canonical name -> known aliases/misspellings.
	Companies map[string][]string `yaml:"companies"`
	// OwnEntities are the operator's legal entities.
	OwnEntities []string `yaml:"own_entities"`
}

// LoadRegistry reads the YAML registry. A missing path yields an empty
// registry, not an error; the rules degrade to pass-through.
func LoadRegistry(path string) (*Registry, error) {
	reg := &Registry{Companies: map[string][]string{}}
	if path == "" {
		return reg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if err := yaml.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if reg.Companies == nil {
		reg.Companies = map[string][]string{}
	}
	return reg, nil
}

// IsOwnEntity reports whether name matches one of the operator's own
// entities, ignoring case and diacritics.
func (r *Registry) IsOwnEntity(name string) bool {
	n := normalizeCompany(name)
	if n == "" {
		return false
	}
	for _, own := range r.OwnEntities {
		o := normalizeCompany(own)
		if n == o || strings.Contains(n, o) || strings.Contains(o, n) {
			return true
		}
	}
	return false
}

// CanonicalNames returns every canonical company name plus aliases,
// alias mapped back to its canonical form.
func (r *Registry) CanonicalNames() map[string]string {
	out := make(map[string]string, len(r.Companies))
	for canonical, aliases := range r.Companies {
		out[normalizeCompany(canonical)] = canonical
		for _, a := range aliases {
			out[normalizeCompany(a)] = canonical
		}
	}
	return out
}
