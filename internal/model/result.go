package model

import (
	"encoding/json"
	"time"
)

// Completeness classifies how much of a lead's identity a result carries.
type Completeness string

const (
	CompletenessEmpty         Completeness = "empty"
	CompletenessPartial       Completeness = "partial_identity"
	CompletenessEmailFound    Completeness = "email_found"
	CompletenessEmailVerified Completeness = "email_verified"
)

// EnrichmentResult is the unit of value produced by any waterfall tier.
// It is mutable only while a run owns it; once written to the cache store it
// is treated as immutable and referenced by fingerprint.
type EnrichmentResult struct {
	Fingerprint       string            `json:"fingerprint"`
	Email             string            `json:"email,omitempty"`
	EmailVerified     bool              `json:"email_verified"`
	Role              string            `json:"role,omitempty"`
	CompanyFields     map[string]string `json:"company_fields,omitempty"`
	SourceTier        string            `json:"source_tier,omitempty"`
	SourceProvider    string            `json:"source_provider,omitempty"`
	Confidence        float64           `json:"confidence"`
	Completeness      Completeness      `json:"completeness"`
	CostUSD           float64           `json:"cost_usd"`
	Degraded          bool              `json:"degraded"`
	NeedsReenrichment bool              `json:"needs_reenrichment"`
	RawPayload        json.RawMessage   `json:"raw_payload,omitempty"`
	EnrichedAt        time.Time         `json:"enriched_at"`
	VerifiedAt        *time.Time        `json:"verified_at,omitempty"`
}

// HasData reports whether the result carries any identity data at all.
func (r *EnrichmentResult) HasData() bool {
	return r != nil && r.Completeness != CompletenessEmpty && r.Completeness != ""
}

// HasEmail reports whether the result includes an email address.
func (r *EnrichmentResult) HasEmail() bool {
	return r != nil && r.Email != ""
}

// CostLedgerEntry is one append-only spend record. Running totals are derived
// by summation, never mutated in place.
type CostLedgerEntry struct {
	ID              string    `json:"id"`
	ProviderID      string    `json:"provider_id"`
	AmountUSD       float64   `json:"amount_usd"`
	LeadFingerprint string    `json:"lead_fingerprint"`
	Timestamp       time.Time `json:"timestamp"`
}

// VerificationTask is a leased row from the verification queue.
type VerificationTask struct {
	ID          string     `json:"id"`
	Fingerprint string     `json:"fingerprint"`
	Attempts    int        `json:"attempts"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	LeasedUntil *time.Time `json:"leased_until,omitempty"`
}
