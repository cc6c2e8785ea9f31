package contract

// Provenance marks which layer produced a field value.
type Provenance string

const (
	FromModel    Provenance = "model"
	FromRule     Provenance = "rule"
	FromFilename Provenance = "filename"
)

// Fields is the normalized shape we want from the model.
type Fields struct {
	Party           string  `json:"party"`
	ContractName    string  `json:"contract_name"`
	ContractType    string  `json:"contract_type"`
	Address         string  `json:"address"`
	Country         string  `json:"country"`
	SignedDate      string  `json:"signed_date"` // YYYY-MM-DD
	StartDate       string  `json:"start_date,omitempty"`
	EndDate         string  `json:"end_date,omitempty"`
	SignatureStatus string  `json:"signature_status"`
	OwnEntity       string  `json:"own_entity,omitempty"` // operator entity named in the document
	ModelConfidence float32 `json:"confidence,omitempty"` // 0..1
}

// Get returns the value of a named field.
func (f *Fields) Get(name string) string {
	switch name {
	case "party":
		return f.Party
	case "contract_name":
		return f.ContractName
	case "contract_type":
		return f.ContractType
	case "address":
		return f.Address
	case "country":
		return f.Country
	case "signed_date":
		return f.SignedDate
	case "start_date":
		return f.StartDate
	case "end_date":
		return f.EndDate
	case "signature_status":
		return f.SignatureStatus
	case "own_entity":
		return f.OwnEntity
	default:
		return ""
	}
}

// Set assigns the value of a named field. Unknown names are ignored.
func (f *Fields) Set(name, value string) {
	switch name {
	case "party":
		f.Party = value
	case "contract_name":
		f.ContractName = value
	case "contract_type":
		f.ContractType = value
	case "address":
		f.Address = value
	case "country":
		f.Country = value
	case "signed_date":
		f.SignedDate = value
	case "start_date":
		f.StartDate = value
	case "end_date":
		f.EndDate = value
	case "signature_status":
		f.SignatureStatus = value
	case "own_entity":
		f.OwnEntity = value
	}
}

// Extraction is the per-document merge of model output and rule
// post-processing. Mutated only during the merge step; treated as
// immutable once validation starts.
type Extraction struct {
	Fields     Fields
	Provenance map[string]Provenance // field name -> producing layer
	Confidence map[string]float64    // optional per-field confidence, 0..100
	Touched    []string              // fields modified by rules, in application order
}

// NewExtraction wraps model fields with model provenance for every
// non-empty field.
func NewExtraction(f Fields) *Extraction {
	e := &Extraction{
		Fields:     f,
		Provenance: make(map[string]Provenance),
		Confidence: make(map[string]float64),
	}
	for _, name := range fieldNames {
		if f.Get(name) != "" {
			e.Provenance[name] = FromModel
		}
	}
	return e
}

var fieldNames = []string{
	"party", "contract_name", "contract_type", "address", "country",
	"signed_date", "start_date", "end_date", "signature_status", "own_entity",
}

// SetField assigns a value and records its provenance, tracking the
// field as touched when the value changed.
func (e *Extraction) SetField(name, value string, src Provenance) {
	if e.Fields.Get(name) == value {
		return
	}
	e.Fields.Set(name, value)
	e.Provenance[name] = src
	e.Touched = append(e.Touched, name)
}
