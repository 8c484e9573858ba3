package waterfall

import (
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/waterfall/provider"
)

// scored pairs a provider record with its confidence evaluation and the tier
// policy it was produced under.
type scored struct {
	rec          *provider.Record
	confidence   float64
	completeness model.Completeness
	tierID       string
	augment      bool
}

// mergeResult folds a scored record into the best-so-far result. Confidence
// never decreases across a run. In augment mode the new record only fills
// fields the current best is missing; in replace mode a strictly
// higher-confidence record takes over the identity fields while company
// fields are unioned. A lower-confidence record never replaces anything.
func mergeResult(best *model.EnrichmentResult, s scored) *model.EnrichmentResult {
	if best == nil || !best.HasData() {
		return resultFrom(s)
	}

	if s.rec == nil || s.completeness == model.CompletenessEmpty {
		return best
	}

	if s.augment || s.confidence <= best.Confidence {
		augmentFields(best, s)
	} else {
		replaceFields(best, s)
	}

	if s.confidence > best.Confidence {
		best.Confidence = s.confidence
	}
	best.Completeness = completenessOf(best)
	return best
}

func resultFrom(s scored) *model.EnrichmentResult {
	if s.rec == nil {
		return nil
	}
	res := &model.EnrichmentResult{
		Email:          s.rec.Email,
		EmailVerified:  s.rec.EmailVerified,
		Role:           s.rec.Role,
		SourceTier:     s.tierID,
		SourceProvider: s.rec.Provider,
		Confidence:     s.confidence,
		Completeness:   s.completeness,
		RawPayload:     s.rec.Raw,
	}
	if len(s.rec.CompanyFields) > 0 {
		res.CompanyFields = make(map[string]string, len(s.rec.CompanyFields))
		for k, v := range s.rec.CompanyFields {
			res.CompanyFields[k] = v
		}
	}
	return res
}

func augmentFields(best *model.EnrichmentResult, s scored) {
	if best.Email == "" && s.rec.Email != "" {
		best.Email = s.rec.Email
		best.EmailVerified = s.rec.EmailVerified
		best.SourceTier = s.tierID
		best.SourceProvider = s.rec.Provider
		best.RawPayload = s.rec.Raw
	}
	if best.Role == "" {
		best.Role = s.rec.Role
	}
	unionCompanyFields(best, s.rec)
}

func replaceFields(best *model.EnrichmentResult, s scored) {
	if s.rec.Email != "" {
		best.Email = s.rec.Email
		best.EmailVerified = s.rec.EmailVerified
	}
	if s.rec.Role != "" {
		best.Role = s.rec.Role
	}
	best.SourceTier = s.tierID
	best.SourceProvider = s.rec.Provider
	best.RawPayload = s.rec.Raw
	unionCompanyFields(best, s.rec)
}

// unionCompanyFields copies record company fields the result is missing.
func unionCompanyFields(best *model.EnrichmentResult, rec *provider.Record) {
	if len(rec.CompanyFields) == 0 {
		return
	}
	if best.CompanyFields == nil {
		best.CompanyFields = make(map[string]string, len(rec.CompanyFields))
	}
	for k, v := range rec.CompanyFields {
		if _, ok := best.CompanyFields[k]; !ok {
			best.CompanyFields[k] = v
		}
	}
}

func completenessOf(res *model.EnrichmentResult) model.Completeness {
	switch {
	case res.Email != "" && res.EmailVerified:
		return model.CompletenessEmailVerified
	case res.Email != "":
		return model.CompletenessEmailFound
	case res.Role != "" || len(res.CompanyFields) > 0:
		return model.CompletenessPartial
	default:
		return model.CompletenessEmpty
	}
}
