package provider

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/pkg/prospeo"
)

// ProspeoAdapter maps the Prospeo email-finder API into the outcome taxonomy.
type ProspeoAdapter struct {
	client prospeo.Client
}

// NewProspeoAdapter wraps a Prospeo client.
func NewProspeoAdapter(client prospeo.Client) *ProspeoAdapter {
	return &ProspeoAdapter{client: client}
}

func (a *ProspeoAdapter) Name() string { return "prospeo" }

func (a *ProspeoAdapter) Call(ctx context.Context, lead model.LeadIdentity, ident Identity) Outcome {
	var opts []prospeo.CallOption
	if ident.ProxyURL != "" {
		opts = append(opts, prospeo.WithProxy(ident.ProxyURL))
	}
	if ident.UserAgent != "" {
		opts = append(opts, prospeo.WithUserAgent(ident.UserAgent))
	}

	resp, err := a.client.FindEmail(ctx, prospeo.FinderRequest{
		FirstName: lead.FirstName,
		LastName:  lead.LastName,
		Company:   lead.CompanyDomain,
	}, opts...)
	if err != nil {
		if eris.Is(err, prospeo.ErrNotFound) {
			return NotFound()
		}
		var apiErr *prospeo.APIError
		if errors.As(err, &apiErr) {
			return classifyStatus(apiErr.StatusCode, apiErr.RetryAfter, err)
		}
		return classifyErr(err)
	}

	data := resp.Response
	return Success(&Record{
		Provider:      a.Name(),
		FirstName:     data.FirstName,
		LastName:      data.LastName,
		Email:         data.Email,
		EmailVerified: data.EmailStatus == "VALID",
		Raw:           resp.Raw,
	})
}
