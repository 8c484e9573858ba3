package provider

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/resilience"
	"github.com/sells-group/enrich-cli/pkg/apollo"
	"github.com/sells-group/enrich-cli/pkg/clearbit"
	"github.com/sells-group/enrich-cli/pkg/hunter"
	"github.com/sells-group/enrich-cli/pkg/prospeo"
)

var testLead = model.LeadIdentity{FirstName: "Jane", LastName: "Doe", CompanyDomain: "acme.com"}

type mockApollo struct {
	resp *apollo.MatchResponse
	err  error
	req  apollo.MatchRequest
}

func (m *mockApollo) MatchPerson(_ context.Context, req apollo.MatchRequest, _ ...apollo.CallOption) (*apollo.MatchResponse, error) {
	m.req = req
	return m.resp, m.err
}

type mockHunter struct {
	resp *hunter.FinderResponse
	err  error
}

func (m *mockHunter) FindEmail(_ context.Context, _ hunter.FinderRequest, _ ...hunter.CallOption) (*hunter.FinderResponse, error) {
	return m.resp, m.err
}

type mockProspeo struct {
	resp *prospeo.FinderResponse
	err  error
}

func (m *mockProspeo) FindEmail(_ context.Context, _ prospeo.FinderRequest, _ ...prospeo.CallOption) (*prospeo.FinderResponse, error) {
	return m.resp, m.err
}

type mockClearbit struct {
	resp *clearbit.PersonResponse
	err  error
}

func (m *mockClearbit) FindPerson(_ context.Context, _ clearbit.FindRequest, _ ...clearbit.CallOption) (*clearbit.PersonResponse, error) {
	return m.resp, m.err
}

func TestApolloAdapterSuccess(t *testing.T) {
	mock := &mockApollo{resp: &apollo.MatchResponse{Person: &apollo.Person{
		FirstName:   "Jane",
		LastName:    "Doe",
		Email:       "jane.doe@acme.com",
		EmailStatus: "verified",
		Title:       "VP Engineering",
		Organization: &apollo.Organization{
			Name: "Acme", Industry: "software", EstimatedEmployees: 250,
		},
	}}}
	a := NewApolloAdapter(mock)

	out := a.Call(context.Background(), testLead, Identity{})
	require.Equal(t, KindSuccess, out.Kind)
	assert.Equal(t, "apollo", out.Record.Provider)
	assert.Equal(t, "jane.doe@acme.com", out.Record.Email)
	assert.True(t, out.Record.EmailVerified)
	assert.Equal(t, "VP Engineering", out.Record.Role)
	assert.Equal(t, "250", out.Record.CompanyFields["employees"])
	assert.Equal(t, "acme.com", mock.req.Domain)
}

func TestApolloAdapterNotFound(t *testing.T) {
	a := NewApolloAdapter(&mockApollo{err: eris.Wrap(apollo.ErrNotFound, "apollo: match person")})
	out := a.Call(context.Background(), testLead, Identity{})
	assert.Equal(t, KindNotFound, out.Kind)
}

func TestApolloAdapterRateLimited(t *testing.T) {
	a := NewApolloAdapter(&mockApollo{err: &apollo.APIError{StatusCode: 429, RetryAfter: 7 * time.Second}})
	out := a.Call(context.Background(), testLead, Identity{})
	require.Equal(t, KindRateLimited, out.Kind)
	assert.Equal(t, 7*time.Second, out.RetryAfter)
}

func TestApolloAdapterNetworkErrorIsTransient(t *testing.T) {
	a := NewApolloAdapter(&mockApollo{err: eris.Wrap(syscall.ECONNREFUSED, "apollo: match person")})
	out := a.Call(context.Background(), testLead, Identity{})
	assert.Equal(t, KindTransient, out.Kind)
	assert.True(t, out.Retry())
}

func TestApolloAdapterWrappedTransientIsTransient(t *testing.T) {
	err := resilience.NewTransientError(eris.New("post match: EOF"), 0)
	a := NewApolloAdapter(&mockApollo{err: eris.Wrap(err, "apollo: match person")})
	out := a.Call(context.Background(), testLead, Identity{})
	assert.Equal(t, KindTransient, out.Kind)
}

func TestApolloAdapterMalformedResponseIsHardBlock(t *testing.T) {
	a := NewApolloAdapter(&mockApollo{err: eris.New("apollo: decode response: invalid character '<'")})
	out := a.Call(context.Background(), testLead, Identity{})
	require.Equal(t, KindBlocked, out.Kind)
	assert.False(t, out.Retry(), "a malformed payload will not improve on retry")
}

func TestHunterAdapterSuccess(t *testing.T) {
	a := NewHunterAdapter(&mockHunter{resp: &hunter.FinderResponse{Data: hunter.FinderData{
		Email:        "jane.doe@acme.com",
		FirstName:    "Jane",
		LastName:     "Doe",
		Position:     "VP Engineering",
		Company:      "Acme",
		Verification: hunter.Verification{Status: "valid"},
	}}})

	out := a.Call(context.Background(), testLead, Identity{})
	require.Equal(t, KindSuccess, out.Kind)
	assert.True(t, out.Record.EmailVerified)
	assert.Equal(t, "Acme", out.Record.CompanyFields["name"])
}

func TestHunterAdapterForbiddenIsRetryableBlock(t *testing.T) {
	a := NewHunterAdapter(&mockHunter{err: &hunter.APIError{StatusCode: 403}})
	out := a.Call(context.Background(), testLead, Identity{})
	require.Equal(t, KindBlocked, out.Kind)
	assert.True(t, out.Retryable, "anti-bot block should invite identity escalation")
}

func TestHunterAdapterUnauthorizedIsHardBlock(t *testing.T) {
	a := NewHunterAdapter(&mockHunter{err: &hunter.APIError{StatusCode: 401}})
	out := a.Call(context.Background(), testLead, Identity{})
	require.Equal(t, KindBlocked, out.Kind)
	assert.False(t, out.Retryable)
}

func TestProspeoAdapterSuccess(t *testing.T) {
	a := NewProspeoAdapter(&mockProspeo{resp: &prospeo.FinderResponse{Response: prospeo.FinderData{
		Email:       "jane.doe@acme.com",
		EmailStatus: "VALID",
		FirstName:   "Jane",
		LastName:    "Doe",
	}}})

	out := a.Call(context.Background(), testLead, Identity{})
	require.Equal(t, KindSuccess, out.Kind)
	assert.Equal(t, "prospeo", out.Record.Provider)
	assert.True(t, out.Record.EmailVerified)
}

func TestProspeoAdapterNotFound(t *testing.T) {
	a := NewProspeoAdapter(&mockProspeo{err: prospeo.ErrNotFound})
	out := a.Call(context.Background(), testLead, Identity{})
	assert.Equal(t, KindNotFound, out.Kind)
}

func TestProspeoAdapterServerErrorIsTransient(t *testing.T) {
	a := NewProspeoAdapter(&mockProspeo{err: &prospeo.APIError{StatusCode: 503}})
	out := a.Call(context.Background(), testLead, Identity{})
	assert.Equal(t, KindTransient, out.Kind)
}

func TestClearbitAdapterSuccess(t *testing.T) {
	a := NewClearbitAdapter(&mockClearbit{resp: &clearbit.PersonResponse{
		GivenName:     "Jane",
		FamilyName:    "Doe",
		Email:         "jane.doe@acme.com",
		EmailVerified: true,
		Title:         "VP Engineering",
		Company: &clearbit.Company{
			Name: "Acme", Domain: "acme.com", Industry: "software",
			Employees: 250, Location: "Austin, TX",
		},
	}})

	out := a.Call(context.Background(), testLead, Identity{})
	require.Equal(t, KindSuccess, out.Kind)
	assert.Equal(t, "clearbit", out.Record.Provider)
	assert.True(t, out.Record.EmailVerified)
	assert.Equal(t, "Austin, TX", out.Record.CompanyFields["location"])
	assert.Equal(t, "acme.com", out.Record.CompanyFields["domain"])
}

func TestClearbitAdapterPaymentRequiredIsHardBlock(t *testing.T) {
	a := NewClearbitAdapter(&mockClearbit{err: &clearbit.APIError{StatusCode: 402}})
	out := a.Call(context.Background(), testLead, Identity{})
	require.Equal(t, KindBlocked, out.Kind)
	assert.False(t, out.Retryable)
}

func TestOutcomeKindStrings(t *testing.T) {
	assert.Equal(t, "success", KindSuccess.String())
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "blocked", KindBlocked.String())
	assert.Equal(t, "rate_limited", KindRateLimited.String())
	assert.Equal(t, "transient", KindTransient.String())
}
