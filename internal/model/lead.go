// Package model defines the core domain types for the enrichment waterfall.
package model

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// domainRe matches a syntactically valid bare domain (no scheme, no path).
var domainRe = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)

// LeadIdentity is the immutable input to an enrichment run.
type LeadIdentity struct {
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	CompanyDomain string `json:"company_domain"`
	LinkedInURL   string `json:"linkedin_url,omitempty"`
}

// Validate checks the input constraints: a syntactically valid company domain
// and at least one of (first+last name, LinkedIn URL).
func (l LeadIdentity) Validate() error {
	domain := NormalizeDomain(l.CompanyDomain)
	if domain == "" {
		return eris.New("lead: company_domain is required")
	}
	if !domainRe.MatchString(domain) {
		return eris.Errorf("lead: invalid company_domain %q", l.CompanyDomain)
	}
	hasName := strings.TrimSpace(l.FirstName) != "" && strings.TrimSpace(l.LastName) != ""
	if !hasName && strings.TrimSpace(l.LinkedInURL) == "" {
		return eris.New("lead: first_name+last_name or linkedin_url is required")
	}
	return nil
}

// FullName returns the lead's display name.
func (l LeadIdentity) FullName() string {
	return strings.TrimSpace(l.FirstName + " " + l.LastName)
}

// NormalizeDomain lower-cases a domain and strips scheme, path and www prefix.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "www.")
	return strings.TrimSuffix(d, ".")
}

// foldTransformer strips diacritics after NFD decomposition so "Jośe" and
// "Jose" produce the same fingerprint.
var foldTransformer = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// normalizeToken lower-cases, folds diacritics and collapses whitespace.
func normalizeToken(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Fingerprint derives the cache / single-flight key for a lead: SHA-256 hex of
// the normalized name + domain concatenation. Stable across whitespace, case
// and diacritic variations of the same identity.
func (l LeadIdentity) Fingerprint() string {
	key := fmt.Sprintf("%s|%s|%s",
		normalizeToken(l.FirstName),
		normalizeToken(l.LastName),
		NormalizeDomain(l.CompanyDomain),
	)
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)
}
