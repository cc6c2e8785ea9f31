package constants

import (
	"strings"
)

type ContractType string

const (
	Acceptance           ContractType = "Acceptance"
	AgencyAgreement      ContractType = "Agency Agreement"
	CommercialProposal   ContractType = "Commercial Proposal"
	ConsultancyAgreement ContractType = "Consultancy Agreement"
	DataProcessing       ContractType = "Data Processing Agreement"
	EmployeeContract     ContractType = "Employee Contract"
	EULA                 ContractType = "EULA"
	ManagedServices      ContractType = "Managed Services Agreement"
	NDA                  ContractType = "NDA"
	PurchaseOrder        ContractType = "PO"
	ResellerAgreement    ContractType = "Reseller Agreement"
	ServiceAgent         ContractType = "Service Agent Agreement"
	ServicePartner       ContractType = "Service Partner Agreement"
	TeamingAgreement     ContractType = "Teaming Agreement"
	OtherContract        ContractType = "Other"
)

var allContractTypes = []ContractType{
	Acceptance,
	AgencyAgreement,
	CommercialProposal,
	ConsultancyAgreement,
	DataProcessing,
	EmployeeContract,
	EULA,
	ManagedServices,
	NDA,
	PurchaseOrder,
	ResellerAgreement,
	ServiceAgent,
	ServicePartner,
	TeamingAgreement,
	OtherContract,
}

func ContractTypeStrings() []string {
	result := make([]string, len(allContractTypes))
	for i, ct := range allContractTypes {
		result[i] = string(ct)
	}
	return result
}

// CanonicalizeContractType maps a free-form label from the model onto the
// closed taxonomy. Exact match first, then substring, then Other.
func CanonicalizeContractType(input string) (ContractType, bool) {
	if input == "" {
		return OtherContract, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	synonyms := map[string]ContractType{
		"non-disclosure agreement":   NDA,
		"non disclosure agreement":   NDA,
		"confidentiality agreement":  NDA,
		"master services agreement":  ManagedServices,
		"purchase order":             PurchaseOrder,
		"end user license agreement": EULA,
	}
	if ct, ok := synonyms[normalized]; ok {
		return ct, true
	}

	for _, ct := range allContractTypes {
		if normalized == strings.ToLower(string(ct)) {
			return ct, true
		}
	}
	for _, ct := range allContractTypes {
		if ct == OtherContract {
			continue
		}
		if strings.Contains(normalized, strings.ToLower(string(ct))) {
			return ct, true
		}
	}

	return OtherContract, false
}
