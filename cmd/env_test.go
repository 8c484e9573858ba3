package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/config"
)

func TestLoadWaterfallConfigDefaults(t *testing.T) {
	cfg = &config.Config{
		Waterfall: config.WaterfallConfig{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")},
	}

	wcfg, err := loadWaterfallConfig()
	require.NoError(t, err)
	assert.Len(t, wcfg.Tiers, 3)
	assert.InDelta(t, 0.75, wcfg.CacheFreshThreshold, 1e-9)
}

func TestLoadWaterfallConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "waterfall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
waterfall:
  cache_fresh_threshold: 0.6
  tiers:
    - id: "1"
      providers: [apollo]
      confidence_threshold: 0.5
      cost_per_call_usd: 0.01
`), 0o600))

	cfg = &config.Config{
		Waterfall: config.WaterfallConfig{
			ConfigPath:    path,
			CacheTTLHours: 48,
		},
	}

	wcfg, err := loadWaterfallConfig()
	require.NoError(t, err)
	assert.Len(t, wcfg.Tiers, 1)
	assert.InDelta(t, 0.6, wcfg.CacheFreshThreshold, 1e-9)
	assert.Equal(t, 48, wcfg.CacheTTLHours, "app config overrides the tier file")
}
