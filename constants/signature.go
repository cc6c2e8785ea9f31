package constants

import "strings"

// SignatureStatus is the merged signature state of a contract.
type SignatureStatus string

const (
	FullySigned        SignatureStatus = "Fully Signed"
	CounterpartySigned SignatureStatus = "Counterparty Signed"
	OwnerSigned        SignatureStatus = "Owner Signed"
	Unsigned           SignatureStatus = "Unsigned"
)

// MapSignature folds a free-form textual signature status from the model
// into the closed set. Unknown input maps to Unsigned.
func MapSignature(text string) SignatureStatus {
	s := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.Contains(s, "fully") || strings.Contains(s, "both"):
		return FullySigned
	case strings.Contains(s, "counter") || strings.Contains(s, "partner") ||
		strings.Contains(s, "vendor") || strings.Contains(s, "customer"):
		return CounterpartySigned
	case strings.Contains(s, "owner") || strings.Contains(s, "internal"):
		return OwnerSigned
	default:
		return Unsigned
	}
}
