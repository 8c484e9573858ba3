// Package importer parses lead files (CSV and XLSX) into lead identities and
// loads them into the store. Header names are matched loosely so exports from
// different CRMs work without reshaping.
package importer

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
)

// upsertBatchSize bounds memory for large lead files.
const upsertBatchSize = 500

// columnAliases maps the header names seen in the wild onto lead fields.
var columnAliases = map[string]string{
	"first_name":     "first",
	"firstname":      "first",
	"first":          "first",
	"last_name":      "last",
	"lastname":       "last",
	"last":           "last",
	"surname":        "last",
	"company_domain": "domain",
	"domain":         "domain",
	"website":        "domain",
	"company":        "domain",
	"linkedin_url":   "linkedin",
	"linkedin":       "linkedin",
}

// Store is the persistence surface the importer needs.
type Store interface {
	UpsertLeads(ctx context.Context, leads []model.LeadIdentity) (int, error)
}

// Stats summarizes one import run.
type Stats struct {
	Rows     int
	Imported int
	Skipped  int
}

// Importer loads lead files into the store.
type Importer struct {
	store Store
}

func New(store Store) *Importer {
	return &Importer{store: store}
}

// ImportFile parses the file by extension and upserts its leads.
func (i *Importer) ImportFile(ctx context.Context, path string) (Stats, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return Stats{}, eris.Wrapf(err, "importer: open %s", path)
		}
		defer f.Close()
		return i.ImportCSV(ctx, f)
	case ".xlsx":
		return i.ImportXLSX(ctx, path)
	default:
		return Stats{}, eris.Errorf("importer: unsupported file type %q", filepath.Ext(path))
	}
}

// ImportCSV streams rows from r. The first row must be a header.
func (i *Importer) ImportCSV(ctx context.Context, r io.Reader) (Stats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return Stats{}, eris.New("importer: empty file")
	}
	if err != nil {
		return Stats{}, eris.Wrap(err, "importer: read header")
	}

	cols, err := mapColumns(header)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	batch := make([]model.LeadIdentity, 0, upsertBatchSize)
	row := 1
	for {
		if ctx.Err() != nil {
			return stats, eris.Wrap(ctx.Err(), "importer: cancelled")
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, eris.Wrap(err, "importer: read row")
		}
		row++
		stats.Rows++

		lead, ok := leadFromRow(record, cols, row)
		if !ok {
			stats.Skipped++
			continue
		}
		batch = append(batch, lead)

		if len(batch) >= upsertBatchSize {
			n, err := i.store.UpsertLeads(ctx, batch)
			if err != nil {
				return stats, eris.Wrap(err, "importer: upsert batch")
			}
			stats.Imported += n
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		n, err := i.store.UpsertLeads(ctx, batch)
		if err != nil {
			return stats, eris.Wrap(err, "importer: upsert batch")
		}
		stats.Imported += n
	}
	return stats, nil
}

// ImportXLSX reads the first sheet. The first row must be a header.
func (i *Importer) ImportXLSX(ctx context.Context, path string) (Stats, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return Stats{}, eris.Wrapf(err, "importer: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return Stats{}, eris.Errorf("importer: %s has no sheets", path)
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return Stats{}, eris.New("importer: empty file")
	}

	cols, err := mapColumns(rowToStrings(sheet.Rows[0]))
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	batch := make([]model.LeadIdentity, 0, upsertBatchSize)
	for idx, sheetRow := range sheet.Rows[1:] {
		if ctx.Err() != nil {
			return stats, eris.Wrap(ctx.Err(), "importer: cancelled")
		}
		stats.Rows++

		lead, ok := leadFromRow(rowToStrings(sheetRow), cols, idx+2)
		if !ok {
			stats.Skipped++
			continue
		}
		batch = append(batch, lead)

		if len(batch) >= upsertBatchSize {
			n, err := i.store.UpsertLeads(ctx, batch)
			if err != nil {
				return stats, eris.Wrap(err, "importer: upsert batch")
			}
			stats.Imported += n
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		n, err := i.store.UpsertLeads(ctx, batch)
		if err != nil {
			return stats, eris.Wrap(err, "importer: upsert batch")
		}
		stats.Imported += n
	}
	return stats, nil
}

// mapColumns resolves header names to field positions. A domain column is the
// only hard requirement.
func mapColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int)
	for idx, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		key = strings.ReplaceAll(key, " ", "_")
		if field, ok := columnAliases[key]; ok {
			if _, dup := cols[field]; !dup {
				cols[field] = idx
			}
		}
	}
	if _, ok := cols["domain"]; !ok {
		return nil, eris.New("importer: no company domain column found")
	}
	return cols, nil
}

func leadFromRow(record []string, cols map[string]int, row int) (model.LeadIdentity, bool) {
	field := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	lead := model.LeadIdentity{
		FirstName:     field("first"),
		LastName:      field("last"),
		CompanyDomain: field("domain"),
		LinkedInURL:   field("linkedin"),
	}
	if err := lead.Validate(); err != nil {
		zap.L().Warn("importer: skipping invalid row",
			zap.Int("row", row),
			zap.Error(err),
		)
		return model.LeadIdentity{}, false
	}
	return lead, true
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
