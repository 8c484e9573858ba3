// Package scorer maps raw provider records to a confidence value and a
// completeness flag. Scoring is deterministic and side-effect-free so
// waterfall decisions stay reproducible.
package scorer

import (
	"regexp"
	"strings"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/waterfall/provider"
)

// emailRe is a pragmatic format check, not RFC 5322.
var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Completeness base scores. A verified email dominates; bare identity data is
// worth keeping but never clears a tier threshold on its own.
const (
	baseEmailVerified = 0.55
	baseEmailFound    = 0.45
	basePartial       = 0.25
)

// Score evaluates a raw provider record against the requested lead.
// weight is the provider's configured reliability weight: premium providers
// get a higher base score for equivalent completeness.
func Score(rec *provider.Record, lead model.LeadIdentity, weight float64) (float64, model.Completeness) {
	if rec == nil {
		return 0, model.CompletenessEmpty
	}

	completeness := classify(rec)
	if completeness == model.CompletenessEmpty {
		return 0, completeness
	}

	var confidence float64
	switch completeness {
	case model.CompletenessEmailVerified:
		confidence = baseEmailVerified
	case model.CompletenessEmailFound:
		confidence = baseEmailFound
	default:
		confidence = basePartial
	}

	if rec.Email != "" && emailRe.MatchString(rec.Email) {
		confidence += 0.05
	}

	confidence += 0.20 * nameMatch(rec, lead)
	confidence += clamp(weight, 0, 0.25)

	return clamp(confidence, 0, 1), completeness
}

// classify derives the completeness flag from the record's fields.
func classify(rec *provider.Record) model.Completeness {
	switch {
	case rec.Email != "" && rec.EmailVerified:
		return model.CompletenessEmailVerified
	case rec.Email != "":
		return model.CompletenessEmailFound
	case rec.FirstName != "" || rec.LastName != "" || rec.Role != "" || len(rec.CompanyFields) > 0:
		return model.CompletenessPartial
	default:
		return model.CompletenessEmpty
	}
}

// nameMatch returns the match strength in [0,1] between the record's name and
// the requested lead's name. Records that echo both names back exactly score
// 1; a single matching name scores 0.5; no overlap scores 0. Leads looked up
// by LinkedIn URL alone carry no name, which counts as a neutral full match
// rather than a mismatch.
func nameMatch(rec *provider.Record, lead model.LeadIdentity) float64 {
	wantFirst := foldName(lead.FirstName)
	wantLast := foldName(lead.LastName)
	if wantFirst == "" && wantLast == "" {
		return 1
	}

	gotFirst := foldName(rec.FirstName)
	gotLast := foldName(rec.LastName)

	var score float64
	if wantFirst != "" && tokenMatches(wantFirst, gotFirst) {
		score += 0.5
	}
	if wantLast != "" && tokenMatches(wantLast, gotLast) {
		score += 0.5
	}

	// Single-name leads: scale so a full match on the only known name is 1.
	if wantFirst == "" || wantLast == "" {
		score *= 2
	}
	return score
}

// tokenMatches treats an exact fold or an initial-vs-full-name pair as a
// match ("J" matches "Jane", "Jane" matches "Jane Ann").
func tokenMatches(want, got string) bool {
	if got == "" {
		return false
	}
	if want == got {
		return true
	}
	if len(want) == 1 {
		return strings.HasPrefix(got, want)
	}
	if len(got) == 1 {
		return strings.HasPrefix(want, got)
	}
	return strings.HasPrefix(got, want+" ") || strings.HasPrefix(want, got+" ")
}

func foldName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
