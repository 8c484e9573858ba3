package provider

import (
	"context"
	"errors"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/pkg/clearbit"
)

// ClearbitAdapter maps the Clearbit prospector API into the outcome taxonomy.
// It backs the premium tier, so it returns the richest company metadata.
type ClearbitAdapter struct {
	client clearbit.Client
}

// NewClearbitAdapter wraps a Clearbit client.
func NewClearbitAdapter(client clearbit.Client) *ClearbitAdapter {
	return &ClearbitAdapter{client: client}
}

func (a *ClearbitAdapter) Name() string { return "clearbit" }

func (a *ClearbitAdapter) Call(ctx context.Context, lead model.LeadIdentity, ident Identity) Outcome {
	var opts []clearbit.CallOption
	if ident.ProxyURL != "" {
		opts = append(opts, clearbit.WithProxy(ident.ProxyURL))
	}
	if ident.UserAgent != "" {
		opts = append(opts, clearbit.WithUserAgent(ident.UserAgent))
	}

	resp, err := a.client.FindPerson(ctx, clearbit.FindRequest{
		Domain:    lead.CompanyDomain,
		FirstName: lead.FirstName,
		LastName:  lead.LastName,
	}, opts...)
	if err != nil {
		if eris.Is(err, clearbit.ErrNotFound) {
			return NotFound()
		}
		var apiErr *clearbit.APIError
		if errors.As(err, &apiErr) {
			return classifyStatus(apiErr.StatusCode, apiErr.RetryAfter, err)
		}
		return classifyErr(err)
	}

	rec := &Record{
		Provider:      a.Name(),
		FirstName:     resp.GivenName,
		LastName:      resp.FamilyName,
		Email:         resp.Email,
		EmailVerified: resp.EmailVerified,
		Role:          resp.Title,
		Raw:           resp.Raw,
	}
	if c := resp.Company; c != nil {
		rec.CompanyFields = map[string]string{}
		if c.Name != "" {
			rec.CompanyFields["name"] = c.Name
		}
		if c.Domain != "" {
			rec.CompanyFields["domain"] = c.Domain
		}
		if c.Industry != "" {
			rec.CompanyFields["industry"] = c.Industry
		}
		if c.Employees > 0 {
			rec.CompanyFields["employees"] = strconv.Itoa(c.Employees)
		}
		if c.Location != "" {
			rec.CompanyFields["location"] = c.Location
		}
	}
	return Success(rec)
}
