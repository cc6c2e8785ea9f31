package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docupipe/contractscan/internal/config"
	"github.com/docupipe/contractscan/internal/contract"
	"github.com/docupipe/contractscan/internal/quality"
)

func testValidator() *Validator {
	return NewValidator(config.ValidationConfig{
		ReviewThreshold:    50,
		WarningReviewCount: 5,
		CriticalPenalty:    5,
		WarningPenalty:     2,
		OCRQualityFloor:    60,
		ModelConfFloor:     0.5,
	}, nil)
}

func goodFields() contract.Fields {
	return contract.Fields{
		Party:           "Acme Corporation GmbH",
		ContractName:    "Master Service Agreement",
		ContractType:    "Managed Services Agreement",
		Address:         "Industriestrasse 5, 80339 Munich",
		Country:         "Germany",
		SignedDate:      "2024-01-15",
		StartDate:       "2024-02-01",
		EndDate:         "2026-01-31",
		SignatureStatus: "Fully Signed",
		ModelConfidence: 0.92,
	}
}

func goodReport() quality.Report {
	return quality.Report{Score: 90, Strategy: quality.StrategyStandard}
}

func TestValidateCleanExtraction(t *testing.T) {
	v := testValidator()
	res := v.Validate(contract.NewExtraction(goodFields()), goodReport())

	assert.Empty(t, res.Issues)
	assert.False(t, res.NeedsReview)
	assert.Greater(t, res.Confidence, 90.0)
}

func TestMissingCriticalFieldForcesReview(t *testing.T) {
	v := testValidator()
	f := goodFields()
	f.Party = ""
	res := v.Validate(contract.NewExtraction(f), goodReport())

	require.GreaterOrEqual(t, res.Criticals(), 1)
	assert.True(t, res.NeedsReview)
	assert.Contains(t, res.ReviewReasons[len(res.ReviewReasons)-1], "party")
}

func TestMissingOptionalFieldOnlyLowersScore(t *testing.T) {
	v := testValidator()

	full := v.Validate(contract.NewExtraction(goodFields()), goodReport())

	f := goodFields()
	f.Country = ""
	partial := v.Validate(contract.NewExtraction(f), goodReport())

	assert.Less(t, partial.Confidence, full.Confidence)
	assert.False(t, partial.NeedsReview)
	assert.Zero(t, partial.Criticals())
}

func TestEndBeforeStartIsCritical(t *testing.T) {
	v := testValidator()
	f := goodFields()
	f.StartDate = "2024-06-01"
	f.EndDate = "2024-01-01"
	res := v.Validate(contract.NewExtraction(f), goodReport())

	require.GreaterOrEqual(t, res.Criticals(), 1)
	found := false
	for _, is := range res.Issues {
		if is.Field == "end_date" && is.Severity == SeverityCritical {
			found = true
		}
	}
	assert.True(t, found)
	assert.True(t, res.NeedsReview, "any critical issue forces review")
	assert.NotEmpty(t, res.ReviewReasons)
}

func TestSignedAfterStartIsCritical(t *testing.T) {
	v := testValidator()
	f := goodFields()
	f.SignedDate = "2025-06-01"
	f.StartDate = "2024-01-01"
	f.EndDate = "2026-01-01"
	res := v.Validate(contract.NewExtraction(f), goodReport())

	require.GreaterOrEqual(t, res.Criticals(), 1)
	found := false
	for _, is := range res.Issues {
		if is.Field == "signed_date" && is.Severity == SeverityCritical {
			found = true
		}
	}
	assert.True(t, found, "a signed date after the start date is critical")
	assert.True(t, res.NeedsReview)
}

func TestSignedOneDayAfterStartIsCritical(t *testing.T) {
	v := testValidator()
	f := goodFields()
	f.SignedDate = "2024-02-02"
	f.StartDate = "2024-02-01"
	res := v.Validate(contract.NewExtraction(f), goodReport())

	assert.GreaterOrEqual(t, res.Criticals(), 1, "no grace period on the ordering check")
	assert.True(t, res.NeedsReview)
}

func TestShortTermWarns(t *testing.T) {
	v := testValidator()
	f := goodFields()
	f.StartDate = "2024-02-01"
	f.EndDate = "2024-02-10"
	res := v.Validate(contract.NewExtraction(f), goodReport())

	assert.GreaterOrEqual(t, res.Warnings(), 1)
	assert.Zero(t, res.Criticals())
}

func TestPlaceholderTreatedAsMissing(t *testing.T) {
	v := testValidator()
	f := goodFields()
	f.Party = "N/A"
	res := v.Validate(contract.NewExtraction(f), goodReport())

	assert.GreaterOrEqual(t, res.Criticals(), 1)
	assert.True(t, res.NeedsReview)
}

func TestUnparseableDateIsCritical(t *testing.T) {
	v := testValidator()
	f := goodFields()
	f.SignedDate = "15.01.2024"
	res := v.Validate(contract.NewExtraction(f), goodReport())

	assert.GreaterOrEqual(t, res.Criticals(), 1)
}

func TestLowQualitySourceWarns(t *testing.T) {
	v := testValidator()
	res := v.Validate(contract.NewExtraction(goodFields()), quality.Report{Score: 35})

	assert.GreaterOrEqual(t, res.Warnings(), 1)
	clean := v.Validate(contract.NewExtraction(goodFields()), goodReport())
	assert.Less(t, res.Confidence, clean.Confidence, "poor source quality must drag the score")
}

func TestLowModelConfidenceWarns(t *testing.T) {
	v := testValidator()
	f := goodFields()
	f.ModelConfidence = 0.2
	res := v.Validate(contract.NewExtraction(f), goodReport())

	assert.GreaterOrEqual(t, res.Warnings(), 1)
}

func TestUnrecognizedCountryWarns(t *testing.T) {
	v := testValidator()
	f := goodFields()
	f.Country = "Atlantis"
	res := v.Validate(contract.NewExtraction(f), goodReport())

	assert.GreaterOrEqual(t, res.Warnings(), 1)
	assert.Zero(t, res.Criticals())

	clean := v.Validate(contract.NewExtraction(goodFields()), goodReport())
	assert.Less(t, res.Confidence, clean.Confidence)
}

func TestCountryAliasesRecognized(t *testing.T) {
	v := testValidator()
	for _, country := range []string{"Germany", "USA", "United Kingdom", "Türkiye", "Ireland"} {
		f := goodFields()
		f.Country = country
		res := v.Validate(contract.NewExtraction(f), goodReport())
		assert.Empty(t, res.Issues, country)
	}
}

func TestAnomalyDetection(t *testing.T) {
	v := testValidator()
	f := goodFields()
	f.Party = "AAAAAAA Holdings"
	res := v.Validate(contract.NewExtraction(f), goodReport())

	assert.GreaterOrEqual(t, res.Warnings(), 1)
}

func TestWarningAccumulationForcesReview(t *testing.T) {
	v := testValidator()
	// Five independent warnings: short party, short address, short term,
	// low model confidence, low source quality.
	f := goodFields()
	f.Party = "AB"
	f.Address = "Str 1"
	f.StartDate = "2024-02-01"
	f.EndDate = "2024-02-05"
	f.ModelConfidence = 0.3
	res := v.Validate(contract.NewExtraction(f), quality.Report{Score: 40})

	assert.GreaterOrEqual(t, res.Warnings(), 5)
	assert.True(t, res.NeedsReview)
}

func TestScoreMonotonicInIssues(t *testing.T) {
	v := testValidator()

	clean := v.Validate(contract.NewExtraction(goodFields()), goodReport())

	f := goodFields()
	f.Country = ""
	oneGap := v.Validate(contract.NewExtraction(f), goodReport())

	f.Address = ""
	twoGaps := v.Validate(contract.NewExtraction(f), goodReport())

	assert.Greater(t, clean.Confidence, oneGap.Confidence)
	assert.Greater(t, oneGap.Confidence, twoGaps.Confidence)
}

func TestConfidenceBounds(t *testing.T) {
	v := testValidator()

	empty := v.Validate(contract.NewExtraction(contract.Fields{}), quality.Report{Score: 0})
	assert.GreaterOrEqual(t, empty.Confidence, 0.0)
	assert.LessOrEqual(t, empty.Confidence, 100.0)
	assert.True(t, empty.NeedsReview)

	full := v.Validate(contract.NewExtraction(goodFields()), quality.Report{Score: 100})
	assert.LessOrEqual(t, full.Confidence, 100.0)
}
