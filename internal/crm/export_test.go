package crm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/pkg/salesforce"
)

type fakeStore struct {
	leads   []model.LeadIdentity
	results map[string]*model.EnrichmentResult
}

func (f *fakeStore) ListLeads(context.Context, int) ([]model.LeadIdentity, error) {
	return f.leads, nil
}

func (f *fakeStore) GetResult(_ context.Context, fp string) (*model.EnrichmentResult, error) {
	return f.results[fp], nil
}

type fakeSF struct {
	existing map[string]string // email -> contact ID returned by Query
	queries  []string
	inserts  []map[string]any
	updates  []salesforce.CollectionRecord
	failIDs  map[string]bool
}

func (f *fakeSF) Query(_ context.Context, soql string, out any) error {
	f.queries = append(f.queries, soql)
	rows := out.(*[]contactRow)
	for email, id := range f.existing {
		if strings.Contains(soql, email) {
			*rows = append(*rows, contactRow{Id: id, Email: email})
		}
	}
	return nil
}

func (f *fakeSF) InsertCollection(_ context.Context, _ string, records []map[string]any) ([]salesforce.CollectionResult, error) {
	f.inserts = append(f.inserts, records...)
	results := make([]salesforce.CollectionResult, len(records))
	for i := range records {
		results[i] = salesforce.CollectionResult{ID: "new", Success: true}
	}
	return results, nil
}

func (f *fakeSF) UpdateCollection(_ context.Context, _ string, records []salesforce.CollectionRecord) ([]salesforce.CollectionResult, error) {
	f.updates = append(f.updates, records...)
	results := make([]salesforce.CollectionResult, len(records))
	for i, rec := range records {
		results[i] = salesforce.CollectionResult{ID: rec.ID, Success: !f.failIDs[rec.ID]}
		if f.failIDs[rec.ID] {
			results[i].Errors = []string{"FIELD_INTEGRITY_EXCEPTION"}
		}
	}
	return results, nil
}

func verifiedResult(email, role string) *model.EnrichmentResult {
	return &model.EnrichmentResult{
		Email:         email,
		EmailVerified: true,
		Role:          role,
		Confidence:    0.9,
		Completeness:  model.CompletenessEmailVerified,
	}
}

func TestExportVerifiedInsertsNewContacts(t *testing.T) {
	jane := model.LeadIdentity{FirstName: "Jane", LastName: "Doe", CompanyDomain: "acme.com"}
	john := model.LeadIdentity{FirstName: "John", LastName: "Smith", CompanyDomain: "globex.com"}
	st := &fakeStore{
		leads: []model.LeadIdentity{jane, john},
		results: map[string]*model.EnrichmentResult{
			jane.Fingerprint(): verifiedResult("jane.doe@acme.com", "VP of Sales"),
			// John's email never cleared verification.
			john.Fingerprint(): {Email: "john@globex.com", Confidence: 0.7},
		},
	}
	sf := &fakeSF{}

	stats, err := NewExporter(sf, st).ExportVerified(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 1, stats.Inserted)
	assert.Zero(t, stats.Updated)
	assert.Zero(t, stats.Failed)

	require.Len(t, sf.inserts, 1)
	assert.Equal(t, "jane.doe@acme.com", sf.inserts[0]["Email"])
	assert.Equal(t, "Jane", sf.inserts[0]["FirstName"])
	assert.Equal(t, "VP of Sales", sf.inserts[0]["Title"])
}

func TestExportVerifiedUpdatesExistingContact(t *testing.T) {
	jane := model.LeadIdentity{FirstName: "Jane", LastName: "Doe", CompanyDomain: "acme.com"}
	st := &fakeStore{
		leads: []model.LeadIdentity{jane},
		results: map[string]*model.EnrichmentResult{
			jane.Fingerprint(): verifiedResult("jane.doe@acme.com", "VP of Sales"),
		},
	}
	sf := &fakeSF{existing: map[string]string{"jane.doe@acme.com": "003xx0001"}}

	stats, err := NewExporter(sf, st).ExportVerified(context.Background())
	require.NoError(t, err)

	assert.Zero(t, stats.Inserted)
	assert.Equal(t, 1, stats.Updated)
	require.Len(t, sf.updates, 1)
	assert.Equal(t, "003xx0001", sf.updates[0].ID)
	assert.NotContains(t, sf.updates[0].Fields, "Email", "update never rewrites the matched email")
}

func TestExportVerifiedCountsFailures(t *testing.T) {
	jane := model.LeadIdentity{FirstName: "Jane", LastName: "Doe", CompanyDomain: "acme.com"}
	st := &fakeStore{
		leads: []model.LeadIdentity{jane},
		results: map[string]*model.EnrichmentResult{
			jane.Fingerprint(): verifiedResult("jane.doe@acme.com", ""),
		},
	}
	sf := &fakeSF{
		existing: map[string]string{"jane.doe@acme.com": "003xx0001"},
		failIDs:  map[string]bool{"003xx0001": true},
	}

	stats, err := NewExporter(sf, st).ExportVerified(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Updated)
}

func TestExportVerifiedNothingToExport(t *testing.T) {
	st := &fakeStore{leads: []model.LeadIdentity{
		{FirstName: "Jane", LastName: "Doe", CompanyDomain: "acme.com"},
	}}
	sf := &fakeSF{}

	stats, err := NewExporter(sf, st).ExportVerified(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned)
	assert.Empty(t, sf.queries, "no SOQL issued when nothing qualifies")
}
