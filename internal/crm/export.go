// Package crm pushes verified enrichment results to Salesforce contacts.
package crm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/pkg/salesforce"
)

// exportBatchSize matches Salesforce's collection API record limit.
const exportBatchSize = 200

// Store is the persistence surface the exporter reads from.
type Store interface {
	ListLeads(ctx context.Context, limit int) ([]model.LeadIdentity, error)
	GetResult(ctx context.Context, fingerprint string) (*model.EnrichmentResult, error)
}

// Stats summarizes one export run.
type Stats struct {
	Scanned  int
	Inserted int
	Updated  int
	Failed   int
}

// Exporter pushes verified results to Salesforce. Only results whose email
// survived verification are exported; unverified addresses never leave the
// cache.
type Exporter struct {
	client salesforce.Client
	store  Store
}

func NewExporter(client salesforce.Client, store Store) *Exporter {
	return &Exporter{client: client, store: store}
}

// contactRow is the SOQL projection used to dedupe against existing contacts.
type contactRow struct {
	Id    string
	Email string
}

// ExportVerified scans stored leads, collects their verified results and
// upserts them as Salesforce contacts keyed by email.
func (e *Exporter) ExportVerified(ctx context.Context) (Stats, error) {
	log := zap.L().With(zap.String("component", "crm.exporter"))

	leads, err := e.store.ListLeads(ctx, 0)
	if err != nil {
		return Stats{}, eris.Wrap(err, "crm: list leads")
	}

	var stats Stats
	type candidate struct {
		lead model.LeadIdentity
		res  *model.EnrichmentResult
	}
	var candidates []candidate
	for _, lead := range leads {
		stats.Scanned++
		res, err := e.store.GetResult(ctx, lead.Fingerprint())
		if err != nil {
			return stats, eris.Wrap(err, "crm: load result")
		}
		if res == nil || !res.EmailVerified {
			continue
		}
		candidates = append(candidates, candidate{lead: lead, res: res})
	}
	if len(candidates) == 0 {
		log.Info("crm: nothing to export")
		return stats, nil
	}

	for start := 0; start < len(candidates); start += exportBatchSize {
		end := min(start+exportBatchSize, len(candidates))
		batch := candidates[start:end]

		emails := make([]string, len(batch))
		for i, c := range batch {
			emails[i] = c.res.Email
		}
		existing, err := e.existingContacts(ctx, emails)
		if err != nil {
			return stats, err
		}

		var inserts []map[string]any
		var updates []salesforce.CollectionRecord
		for _, c := range batch {
			fields := contactFields(c.lead, c.res)
			if id, ok := existing[strings.ToLower(c.res.Email)]; ok {
				updates = append(updates, salesforce.CollectionRecord{ID: id, Fields: fields})
			} else {
				fields["Email"] = c.res.Email
				inserts = append(inserts, fields)
			}
		}

		if len(inserts) > 0 {
			results, err := e.client.InsertCollection(ctx, "Contact", inserts)
			if err != nil {
				return stats, eris.Wrap(err, "crm: insert contacts")
			}
			ok, failed := tally(results, log)
			stats.Inserted += ok
			stats.Failed += failed
		}
		if len(updates) > 0 {
			results, err := e.client.UpdateCollection(ctx, "Contact", updates)
			if err != nil {
				return stats, eris.Wrap(err, "crm: update contacts")
			}
			ok, failed := tally(results, log)
			stats.Updated += ok
			stats.Failed += failed
		}
	}

	log.Info("crm: export complete",
		zap.Int("scanned", stats.Scanned),
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

// existingContacts maps lower-cased email to contact ID for dedupe.
func (e *Exporter) existingContacts(ctx context.Context, emails []string) (map[string]string, error) {
	quoted := make([]string, len(emails))
	for i, email := range emails {
		quoted[i] = fmt.Sprintf("'%s'", strings.ReplaceAll(email, "'", "\\'"))
	}
	soql := fmt.Sprintf("SELECT Id, Email FROM Contact WHERE Email IN (%s)", strings.Join(quoted, ","))

	var rows []contactRow
	if err := e.client.Query(ctx, soql, &rows); err != nil {
		return nil, eris.Wrap(err, "crm: query existing contacts")
	}

	existing := make(map[string]string, len(rows))
	for _, row := range rows {
		existing[strings.ToLower(row.Email)] = row.Id
	}
	return existing, nil
}

func contactFields(lead model.LeadIdentity, res *model.EnrichmentResult) map[string]any {
	fields := map[string]any{
		"FirstName": lead.FirstName,
		"LastName":  lead.LastName,
	}
	if lead.LastName == "" {
		// Salesforce requires LastName on Contact.
		fields["LastName"] = lead.CompanyDomain
	}
	if res.Role != "" {
		fields["Title"] = res.Role
	}
	if company := res.CompanyFields["name"]; company != "" {
		fields["Description"] = fmt.Sprintf("Enriched contact at %s", company)
	}
	if res.VerifiedAt != nil {
		fields["LeadSource"] = "Enrichment " + res.VerifiedAt.Format(time.DateOnly)
	}
	return fields
}

func tally(results []salesforce.CollectionResult, log *zap.Logger) (ok, failed int) {
	for _, r := range results {
		if r.Success {
			ok++
			continue
		}
		failed++
		log.Warn("crm: contact write failed",
			zap.String("id", r.ID),
			zap.Strings("errors", r.Errors),
		)
	}
	return ok, failed
}
