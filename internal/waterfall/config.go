package waterfall

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration is the sentinel for malformed waterfall configuration.
// It is fatal at startup and never surfaced per request.
var ErrConfiguration = eris.New("waterfall: invalid configuration")

// Config is the top-level waterfall configuration. Tier order in the slice
// defines escalation precedence: earlier tiers are cheaper and tried first.
type Config struct {
	CacheFreshThreshold float64                   `yaml:"cache_fresh_threshold"`
	CacheTTLHours       int                       `yaml:"cache_ttl_hours"`
	VolumeWindowMins    int                       `yaml:"volume_window_mins"`
	Escalation          EscalationConfig          `yaml:"escalation"`
	Providers           map[string]ProviderConfig `yaml:"providers"`
	Tiers               []TierConfig              `yaml:"tiers"`
}

// TierConfig defines one stage of the waterfall.
type TierConfig struct {
	ID                  string   `yaml:"id"`
	Providers           []string `yaml:"providers"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	MaxShareOfVolume    float64  `yaml:"max_share_of_volume"` // 0 = uncapped
	CostPerCallUSD      float64  `yaml:"cost_per_call_usd"`
	Augment             bool     `yaml:"augment"` // merge into prior data instead of replacing it
}

// ProviderConfig holds per-provider scoring parameters.
type ProviderConfig struct {
	// Weight is the reliability weight added to the confidence score,
	// capped at 0.25 by the scorer.
	Weight float64 `yaml:"weight"`
}

// EscalationConfig holds retry and identity-rotation parameters.
type EscalationConfig struct {
	MaxAttempts      int     `yaml:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction"`
}

// DefaultConfig returns the built-in waterfall: two low-cost tier-1
// providers, a mid-cost email-finder fallback, and a premium tier capped at
// 15% of rolling volume.
func DefaultConfig() *Config {
	return &Config{
		CacheFreshThreshold: 0.75,
		CacheTTLHours:       24 * 30,
		VolumeWindowMins:    60,
		Escalation: EscalationConfig{
			MaxAttempts:      3,
			InitialBackoffMS: 500,
			MaxBackoffMS:     30000,
			Multiplier:       2.0,
			JitterFraction:   0.25,
		},
		Providers: map[string]ProviderConfig{
			"apollo":   {Weight: 0.10},
			"hunter":   {Weight: 0.08},
			"prospeo":  {Weight: 0.12},
			"clearbit": {Weight: 0.20},
		},
		Tiers: []TierConfig{
			{
				ID:                  "1",
				Providers:           []string{"apollo", "hunter"},
				ConfidenceThreshold: 0.70,
				CostPerCallUSD:      0.01,
			},
			{
				ID:                  "1.5",
				Providers:           []string{"prospeo"},
				ConfidenceThreshold: 0.70,
				CostPerCallUSD:      0.02,
				Augment:             true,
			},
			{
				ID:                  "2",
				Providers:           []string{"clearbit"},
				ConfidenceThreshold: 0.75,
				MaxShareOfVolume:    0.15,
				CostPerCallUSD:      0.10,
			},
		},
	}
}

// LoadConfig reads waterfall config from a YAML file. Unset scalar fields
// fall back to the built-in defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "waterfall: read config %s", path)
	}

	// The YAML has a top-level "waterfall" key
	var wrapper struct {
		Waterfall Config `yaml:"waterfall"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "waterfall: parse config")
	}

	cfg := &wrapper.Waterfall
	def := DefaultConfig()
	if cfg.CacheFreshThreshold == 0 {
		cfg.CacheFreshThreshold = def.CacheFreshThreshold
	}
	if cfg.CacheTTLHours == 0 {
		cfg.CacheTTLHours = def.CacheTTLHours
	}
	if cfg.VolumeWindowMins == 0 {
		cfg.VolumeWindowMins = def.VolumeWindowMins
	}
	if cfg.Escalation.MaxAttempts == 0 {
		cfg.Escalation = def.Escalation
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = def.Providers
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural soundness. Any violation wraps ErrConfiguration.
func (c *Config) Validate() error {
	if len(c.Tiers) == 0 {
		return eris.Wrap(ErrConfiguration, "no tiers defined")
	}
	if c.CacheFreshThreshold < 0 || c.CacheFreshThreshold > 1 {
		return eris.Wrapf(ErrConfiguration, "cache_fresh_threshold %v outside [0,1]", c.CacheFreshThreshold)
	}

	seen := make(map[string]bool, len(c.Tiers))
	for _, tier := range c.Tiers {
		if tier.ID == "" {
			return eris.Wrap(ErrConfiguration, "tier with empty id")
		}
		if seen[tier.ID] {
			return eris.Wrapf(ErrConfiguration, "duplicate tier id %q", tier.ID)
		}
		seen[tier.ID] = true

		if len(tier.Providers) == 0 {
			return eris.Wrapf(ErrConfiguration, "tier %q has no providers", tier.ID)
		}
		for _, name := range tier.Providers {
			if _, ok := c.Providers[name]; !ok {
				return eris.Wrapf(ErrConfiguration, "tier %q references unknown provider %q", tier.ID, name)
			}
		}
		if tier.ConfidenceThreshold <= 0 || tier.ConfidenceThreshold > 1 {
			return eris.Wrapf(ErrConfiguration, "tier %q confidence_threshold %v outside (0,1]", tier.ID, tier.ConfidenceThreshold)
		}
		if tier.MaxShareOfVolume < 0 || tier.MaxShareOfVolume > 1 {
			return eris.Wrapf(ErrConfiguration, "tier %q max_share_of_volume %v outside [0,1]", tier.ID, tier.MaxShareOfVolume)
		}
		if tier.CostPerCallUSD <= 0 {
			return eris.Wrapf(ErrConfiguration, "tier %q cost_per_call_usd must be positive", tier.ID)
		}
	}
	return nil
}
