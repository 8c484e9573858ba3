package provider

import (
	"context"
	"errors"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/pkg/apollo"
)

// ApolloAdapter maps the Apollo people-match API into the outcome taxonomy.
type ApolloAdapter struct {
	client apollo.Client
}

// NewApolloAdapter wraps an Apollo client.
func NewApolloAdapter(client apollo.Client) *ApolloAdapter {
	return &ApolloAdapter{client: client}
}

func (a *ApolloAdapter) Name() string { return "apollo" }

func (a *ApolloAdapter) Call(ctx context.Context, lead model.LeadIdentity, ident Identity) Outcome {
	var opts []apollo.CallOption
	if ident.ProxyURL != "" {
		opts = append(opts, apollo.WithProxy(ident.ProxyURL))
	}
	if ident.UserAgent != "" {
		opts = append(opts, apollo.WithUserAgent(ident.UserAgent))
	}

	resp, err := a.client.MatchPerson(ctx, apollo.MatchRequest{
		FirstName:   lead.FirstName,
		LastName:    lead.LastName,
		Domain:      lead.CompanyDomain,
		LinkedInURL: lead.LinkedInURL,
	}, opts...)
	if err != nil {
		if eris.Is(err, apollo.ErrNotFound) {
			return NotFound()
		}
		var apiErr *apollo.APIError
		if errors.As(err, &apiErr) {
			return classifyStatus(apiErr.StatusCode, apiErr.RetryAfter, err)
		}
		return classifyErr(err)
	}

	p := resp.Person
	rec := &Record{
		Provider:      a.Name(),
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Email:         p.Email,
		EmailVerified: p.EmailStatus == "verified",
		Role:          p.Title,
		Raw:           resp.Raw,
	}
	if org := p.Organization; org != nil {
		rec.CompanyFields = map[string]string{}
		if org.Name != "" {
			rec.CompanyFields["name"] = org.Name
		}
		if org.Industry != "" {
			rec.CompanyFields["industry"] = org.Industry
		}
		if org.EstimatedEmployees > 0 {
			rec.CompanyFields["employees"] = strconv.Itoa(org.EstimatedEmployees)
		}
	}
	return Success(rec)
}
