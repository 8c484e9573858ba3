// Package escalate owns retry and identity-rotation policy for provider
// calls. Adapters stay stateless; when a provider blocks or throttles a
// request, the engine here decides whether to back off, rotate to a fresh
// network identity, or give up.
package escalate

import (
	"sync"

	"github.com/sells-group/enrich-cli/internal/config"
	"github.com/sells-group/enrich-cli/internal/waterfall/provider"
)

// Pool hands out network identities for escalated retries. The zero value is
// an empty pool whose Next always returns the direct identity, so running
// without configured proxies degrades to plain retries.
type Pool struct {
	mu         sync.Mutex
	identities []provider.Identity
	cursor     int
}

// NewPool builds a rotation pool from the configured proxy endpoints and user
// agents. Each endpoint is paired with user agents round-robin so the pool
// covers every proxy before repeating one.
func NewPool(cfg config.ProxyConfig) *Pool {
	p := &Pool{}
	agents := cfg.UserAgents
	if len(agents) == 0 {
		agents = []string{""}
	}
	for i, endpoint := range cfg.Endpoints {
		p.identities = append(p.identities, provider.Identity{
			ProxyURL:  endpoint,
			UserAgent: agents[i%len(agents)],
		})
	}
	return p
}

// Size returns the number of distinct identities in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.identities)
}

// Next returns the next identity in rotation, skipping any whose proxy URL
// appears in burned. When every identity is burned (or the pool is empty) it
// returns the direct identity and false.
func (p *Pool) Next(burned map[string]bool) (provider.Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < len(p.identities); i++ {
		ident := p.identities[p.cursor%len(p.identities)]
		p.cursor++
		if !burned[ident.ProxyURL] {
			return ident, true
		}
	}
	return provider.Identity{}, false
}
