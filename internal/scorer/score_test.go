package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/waterfall/provider"
)

func TestScoreNilRecord(t *testing.T) {
	conf, comp := Score(nil, model.LeadIdentity{FirstName: "Jane", LastName: "Doe"}, 0.1)
	assert.Zero(t, conf)
	assert.Equal(t, model.CompletenessEmpty, comp)
}

func TestScoreEmptyRecord(t *testing.T) {
	conf, comp := Score(&provider.Record{Provider: "apollo"}, model.LeadIdentity{FirstName: "Jane", LastName: "Doe"}, 0.1)
	assert.Zero(t, conf)
	assert.Equal(t, model.CompletenessEmpty, comp)
}

func TestScoreVerifiedEmailFullMatch(t *testing.T) {
	lead := model.LeadIdentity{FirstName: "Jane", LastName: "Doe", CompanyDomain: "acme.com"}
	rec := &provider.Record{
		Provider:      "clearbit",
		FirstName:     "Jane",
		LastName:      "Doe",
		Email:         "jane.doe@acme.com",
		EmailVerified: true,
	}

	conf, comp := Score(rec, lead, 0.2)
	assert.Equal(t, model.CompletenessEmailVerified, comp)
	// 0.55 base + 0.05 format + 0.20 name + 0.20 weight
	assert.InDelta(t, 1.0, conf, 0.001)
}

func TestScoreUnverifiedEmail(t *testing.T) {
	lead := model.LeadIdentity{FirstName: "Jane", LastName: "Doe", CompanyDomain: "acme.com"}
	rec := &provider.Record{
		Provider:  "prospeo",
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     "jane.doe@acme.com",
	}

	conf, comp := Score(rec, lead, 0.1)
	assert.Equal(t, model.CompletenessEmailFound, comp)
	// 0.45 base + 0.05 format + 0.20 name + 0.10 weight
	assert.InDelta(t, 0.80, conf, 0.001)
}

func TestScoreIdentityOnly(t *testing.T) {
	lead := model.LeadIdentity{FirstName: "Jane", LastName: "Doe", CompanyDomain: "acme.com"}
	rec := &provider.Record{
		Provider:  "apollo",
		FirstName: "Jane",
		LastName:  "Doe",
		Role:      "VP Engineering",
	}

	conf, comp := Score(rec, lead, 0.1)
	assert.Equal(t, model.CompletenessPartial, comp)
	// 0.25 base + 0.20 name + 0.10 weight
	assert.InDelta(t, 0.55, conf, 0.001)
}

func TestScoreNameMismatchPenalized(t *testing.T) {
	lead := model.LeadIdentity{FirstName: "Jane", LastName: "Doe", CompanyDomain: "acme.com"}
	match := &provider.Record{Provider: "hunter", FirstName: "Jane", LastName: "Doe", Email: "jane.doe@acme.com"}
	mismatch := &provider.Record{Provider: "hunter", FirstName: "John", LastName: "Smith", Email: "john.smith@acme.com"}

	matchConf, _ := Score(match, lead, 0.1)
	mismatchConf, _ := Score(mismatch, lead, 0.1)
	assert.Greater(t, matchConf, mismatchConf)
	assert.InDelta(t, 0.20, matchConf-mismatchConf, 0.001)
}

func TestScorePartialNameMatch(t *testing.T) {
	lead := model.LeadIdentity{FirstName: "Jane", LastName: "Doe", CompanyDomain: "acme.com"}
	rec := &provider.Record{Provider: "hunter", FirstName: "Jane", LastName: "Smith", Email: "jane@acme.com"}

	conf, _ := Score(rec, lead, 0.1)
	// 0.45 base + 0.05 format + 0.10 half name match + 0.10 weight
	assert.InDelta(t, 0.70, conf, 0.001)
}

func TestScoreInitialMatchesFullName(t *testing.T) {
	lead := model.LeadIdentity{FirstName: "J", LastName: "Doe", CompanyDomain: "acme.com"}
	rec := &provider.Record{Provider: "apollo", FirstName: "Jane", LastName: "Doe", Email: "jane.doe@acme.com"}

	conf, _ := Score(rec, lead, 0.1)
	full, _ := Score(rec, model.LeadIdentity{FirstName: "Jane", LastName: "Doe", CompanyDomain: "acme.com"}, 0.1)
	assert.Equal(t, full, conf)
}

func TestScoreLinkedInOnlyLeadNeutralName(t *testing.T) {
	lead := model.LeadIdentity{LinkedInURL: "https://linkedin.com/in/jane-doe"}
	rec := &provider.Record{Provider: "apollo", FirstName: "Jane", LastName: "Doe", Email: "jane.doe@acme.com"}

	conf, _ := Score(rec, lead, 0.1)
	// No requested name counts as a full name match.
	assert.InDelta(t, 0.80, conf, 0.001)
}

func TestScoreBadEmailFormatNoBonus(t *testing.T) {
	lead := model.LeadIdentity{FirstName: "Jane", LastName: "Doe", CompanyDomain: "acme.com"}
	good := &provider.Record{Provider: "hunter", FirstName: "Jane", LastName: "Doe", Email: "jane.doe@acme.com"}
	bad := &provider.Record{Provider: "hunter", FirstName: "Jane", LastName: "Doe", Email: "not-an-email"}

	goodConf, _ := Score(good, lead, 0.1)
	badConf, _ := Score(bad, lead, 0.1)
	assert.InDelta(t, 0.05, goodConf-badConf, 0.001)
}

func TestScoreWeightCapped(t *testing.T) {
	lead := model.LeadIdentity{FirstName: "Jane", LastName: "Doe", CompanyDomain: "acme.com"}
	rec := &provider.Record{Provider: "clearbit", FirstName: "Jane", LastName: "Doe", Email: "jane.doe@acme.com", EmailVerified: true}

	capped, _ := Score(rec, lead, 0.25)
	over, _ := Score(rec, lead, 5.0)
	assert.Equal(t, capped, over)
	assert.LessOrEqual(t, over, 1.0)
}

func TestScoreDeterministic(t *testing.T) {
	lead := model.LeadIdentity{FirstName: "José", LastName: "García", CompanyDomain: "acme.com"}
	rec := &provider.Record{Provider: "apollo", FirstName: "José", LastName: "García", Email: "jose@acme.com"}

	first, firstComp := Score(rec, lead, 0.1)
	for i := 0; i < 10; i++ {
		conf, comp := Score(rec, lead, 0.1)
		assert.Equal(t, first, conf)
		assert.Equal(t, firstComp, comp)
	}
}
