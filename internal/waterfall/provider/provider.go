// Package provider defines the capability interface, outcome taxonomy, and
// per-provider adapters for enrichment data providers.
package provider

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sells-group/enrich-cli/internal/model"
)

// Identity is the network identity a call is made under. The zero value means
// a direct connection with the default user agent.
type Identity struct {
	ProxyURL  string
	UserAgent string
}

// Direct reports whether the identity is a plain unproxied connection.
func (id Identity) Direct() bool {
	return id.ProxyURL == "" && id.UserAgent == ""
}

// OutcomeKind tags the variant of a provider call outcome.
type OutcomeKind int

const (
	// KindSuccess means the provider returned a usable record.
	KindSuccess OutcomeKind = iota
	// KindNotFound means the provider ran but has no match. Not an error.
	KindNotFound
	// KindBlocked means the provider refused the request (anti-bot, auth wall).
	KindBlocked
	// KindRateLimited means the provider imposed a quota delay.
	KindRateLimited
	// KindTransient covers network failures and timeouts.
	KindTransient
)

func (k OutcomeKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindNotFound:
		return "not_found"
	case KindBlocked:
		return "blocked"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of a single provider call. The orchestrator's
// branching depends only on this taxonomy, never on provider-specific errors.
type Outcome struct {
	Kind       OutcomeKind
	Record     *Record       // set when Kind == KindSuccess
	Retryable  bool          // meaningful when Kind == KindBlocked
	RetryAfter time.Duration // meaningful when Kind == KindRateLimited
	Err        error         // underlying cause for blocked/transient
}

// Success wraps a record in a success outcome.
func Success(rec *Record) Outcome {
	return Outcome{Kind: KindSuccess, Record: rec}
}

// NotFound is the no-match outcome.
func NotFound() Outcome {
	return Outcome{Kind: KindNotFound}
}

// Blocked builds a blocked outcome; retryable blocks are candidates for
// identity escalation.
func Blocked(retryable bool, err error) Outcome {
	return Outcome{Kind: KindBlocked, Retryable: retryable, Err: err}
}

// RateLimited builds a rate-limited outcome with the provider's requested delay.
func RateLimited(retryAfter time.Duration) Outcome {
	return Outcome{Kind: KindRateLimited, RetryAfter: retryAfter}
}

// Transient builds a transient-failure outcome. Timeouts map here.
func Transient(err error) Outcome {
	return Outcome{Kind: KindTransient, Err: err}
}

// Retry reports whether the outcome warrants another attempt under a
// fresh identity.
func (o Outcome) Retry() bool {
	switch o.Kind {
	case KindBlocked:
		return o.Retryable
	case KindRateLimited, KindTransient:
		return true
	default:
		return false
	}
}

// Record is the uniform raw result shape every adapter maps its provider's
// payload into.
type Record struct {
	Provider      string            `json:"provider"`
	FirstName     string            `json:"first_name,omitempty"`
	LastName      string            `json:"last_name,omitempty"`
	Email         string            `json:"email,omitempty"`
	EmailVerified bool              `json:"email_verified"`
	Role          string            `json:"role,omitempty"`
	CompanyFields map[string]string `json:"company_fields,omitempty"`
	Raw           json.RawMessage   `json:"raw,omitempty"`
}

// Adapter is the capability interface implemented once per provider. Adapters
// are stateless across calls: they shape the request, classify native errors
// into the outcome taxonomy, and report cost on every attempt. Retry state
// lives in the escalation engine, never here.
type Adapter interface {
	Name() string
	Call(ctx context.Context, lead model.LeadIdentity, ident Identity) Outcome
}

// Registry manages available provider adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns an adapter by name, or nil if not found.
func (r *Registry) Get(name string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[name]
}

// List returns all registered adapter names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
