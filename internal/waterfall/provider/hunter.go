package provider

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/pkg/hunter"
)

// HunterAdapter maps the Hunter email-finder API into the outcome taxonomy.
type HunterAdapter struct {
	client hunter.Client
}

// NewHunterAdapter wraps a Hunter client.
func NewHunterAdapter(client hunter.Client) *HunterAdapter {
	return &HunterAdapter{client: client}
}

func (a *HunterAdapter) Name() string { return "hunter" }

func (a *HunterAdapter) Call(ctx context.Context, lead model.LeadIdentity, ident Identity) Outcome {
	var opts []hunter.CallOption
	if ident.ProxyURL != "" {
		opts = append(opts, hunter.WithProxy(ident.ProxyURL))
	}
	if ident.UserAgent != "" {
		opts = append(opts, hunter.WithUserAgent(ident.UserAgent))
	}

	resp, err := a.client.FindEmail(ctx, hunter.FinderRequest{
		Domain:    lead.CompanyDomain,
		FirstName: lead.FirstName,
		LastName:  lead.LastName,
	}, opts...)
	if err != nil {
		if eris.Is(err, hunter.ErrNotFound) {
			return NotFound()
		}
		var apiErr *hunter.APIError
		if errors.As(err, &apiErr) {
			return classifyStatus(apiErr.StatusCode, apiErr.RetryAfter, err)
		}
		return classifyErr(err)
	}

	data := resp.Data
	rec := &Record{
		Provider:      a.Name(),
		FirstName:     data.FirstName,
		LastName:      data.LastName,
		Email:         data.Email,
		EmailVerified: data.Verification.Status == "valid",
		Role:          data.Position,
		Raw:           resp.Raw,
	}
	if data.Company != "" {
		rec.CompanyFields = map[string]string{"name": data.Company}
	}
	return Success(rec)
}
