package rules

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/docupipe/contractscan/constants"
	"github.com/docupipe/contractscan/internal/config"
	"github.com/docupipe/contractscan/internal/contract"
)

// Engine runs the deterministic post-processors over a model
// extraction. Rules are individually toggleable; each applied change
// records rule provenance on the extraction.
type Engine struct {
	cfg    config.RulesConfig
	reg    *Registry
	logger *slog.Logger
}

func NewEngine(cfg config.RulesConfig, reg *Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = &Registry{Companies: map[string][]string{}}
	}
	return &Engine{cfg: cfg, reg: reg, logger: logger}
}

// Apply runs every enabled rule in a fixed order. Hard constraints
// (blacklist) run before soft corrections so later rules see cleaned
// values.
func (en *Engine) Apply(e *contract.Extraction, filename string) {
	en.repairEncoding(e)
	en.canonicalizeType(e)
	en.detectOwnEntity(e)

	if en.cfg.BlacklistFilter {
		en.filterAddress(e)
	}
	if en.cfg.FuzzyMatch {
		en.matchRegistry(e)
	}
	if en.cfg.CountryInference {
		en.inferCountry(e)
	}
	if en.cfg.FilenameFallback {
		en.filenameFallbacks(e, filename)
	}

	en.tidyContractName(e, filename)
	en.mapSignatureStatus(e)

	if len(e.Touched) > 0 {
		en.logger.Debug("rules.applied", "file", filepath.Base(filename), "touched", e.Touched)
	}
}

// repairEncoding fixes double-encoded text in the free-form fields.
func (en *Engine) repairEncoding(e *contract.Extraction) {
	for _, name := range []string{"party", "contract_name", "address", "country"} {
		if v := e.Fields.Get(name); v != "" {
			if fixed := repairMojibake(v); fixed != v {
				e.SetField(name, fixed, contract.FromRule)
			}
		}
	}
}

func (en *Engine) canonicalizeType(e *contract.Extraction) {
	v := e.Fields.ContractType
	if v == "" {
		return
	}
	if ct, ok := constants.CanonicalizeContractType(v); ok {
		if string(ct) != v {
			e.SetField("contract_type", string(ct), contract.FromRule)
		}
		return
	}
	e.SetField("contract_type", string(constants.OtherContract), contract.FromRule)
}

// detectOwnEntity moves the operator's own company out of the party
// slot. The model sometimes confuses the two signatories.
func (en *Engine) detectOwnEntity(e *contract.Extraction) {
	party := e.Fields.Party
	if party == "" || !en.reg.IsOwnEntity(party) {
		return
	}
	en.logger.Warn("rules.own_entity_as_party", "party", party)
	if e.Fields.OwnEntity == "" {
		e.SetField("own_entity", party, contract.FromRule)
	}
	e.SetField("party", "", contract.FromRule)
}

// filterAddress clears addresses matching the blacklist. The blacklist
// holds the operator's own office addresses; a match means the model
// extracted the wrong side of the contract.
func (en *Engine) filterAddress(e *contract.Extraction) {
	addr := e.Fields.Address
	if addr == "" {
		return
	}
	folded := strings.ToLower(foldASCII(addr))
	for _, bad := range en.cfg.AddressBlacklist {
		if b := strings.ToLower(foldASCII(bad)); b != "" && strings.Contains(folded, b) {
			en.logger.Debug("rules.address_blacklisted", "fragment", bad)
			e.SetField("address", "", contract.FromRule)
			return
		}
	}
}

// matchRegistry snaps the party onto a canonical registry name when the
// similarity clears the threshold. Exact normalized matches win over
// fuzzy ones.
func (en *Engine) matchRegistry(e *contract.Extraction) {
	party := e.Fields.Party
	if party == "" || len(en.reg.Companies) == 0 {
		return
	}
	norm := normalizeCompany(party)
	if norm == "" {
		return
	}

	names := en.reg.CanonicalNames()
	if canonical, ok := names[norm]; ok {
		if canonical != party {
			e.SetField("party", canonical, contract.FromRule)
		}
		return
	}

	bestName, bestScore := "", 0.0
	for cand, canonical := range names {
		if score := levenshtein.Similarity(norm, cand, levenshtein.NewParams()); score > bestScore {
			bestName, bestScore = canonical, score
		}
	}
	if bestScore >= en.cfg.MatchThreshold && bestName != party {
		en.logger.Debug("rules.fuzzy_match", "from", party, "to", bestName, "score", bestScore)
		e.SetField("party", bestName, contract.FromRule)
	}
}

func (en *Engine) inferCountry(e *contract.Extraction) {
	if e.Fields.Country != "" {
		return
	}
	if c := inferCountry(e.Fields.Address); c != "" {
		e.SetField("country", c, contract.FromRule)
	}
}

// filenameFallbacks fills empty fields from the filename. Weakest
// signal, so it only ever fills gaps.
func (en *Engine) filenameFallbacks(e *contract.Extraction, filename string) {
	if filename == "" {
		return
	}
	if e.Fields.SignedDate == "" {
		if d, ok := DateFromFilename(filename); ok {
			e.SetField("signed_date", d, contract.FromFilename)
		}
	}
	if e.Fields.Party == "" {
		if company, ok := CompanyFromFilename(filename); ok && !en.reg.IsOwnEntity(company) {
			e.SetField("party", company, contract.FromFilename)
		}
	}
}

func (en *Engine) tidyContractName(e *contract.Extraction, filename string) {
	name := e.Fields.ContractName
	if name != "" {
		if cleaned := cleanContractName(name); cleaned != name {
			e.SetField("contract_name", cleaned, contract.FromRule)
		}
		return
	}
	if en.cfg.FilenameFallback && filename != "" {
		base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
		if cleaned := cleanContractName(base); cleaned != "" {
			e.SetField("contract_name", cleaned, contract.FromFilename)
		}
	}
}

func (en *Engine) mapSignatureStatus(e *contract.Extraction) {
	v := e.Fields.SignatureStatus
	if v == "" {
		return
	}
	mapped := string(constants.MapSignature(v))
	if mapped != v {
		e.SetField("signature_status", mapped, contract.FromRule)
	}
}
