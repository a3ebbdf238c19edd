package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("VXSKY_BASE_URL", "https://vxsky.example")
	t.Setenv("VXSKY_IDENTIFIER", "embed.example.com")
	t.Setenv("VXSKY_APP_PASSWORD", "xxxx-xxxx-xxxx-xxxx")
}

func TestLoad(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		setRequired(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "https://bsky.social", cfg.ServiceURL)
		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, "vxsky.db", cfg.DBPath)
		assert.True(t, cfg.MetricsEnable)
		assert.False(t, cfg.IsProduction())
	})

	t.Run("trailing slash trimmed from base URL", func(t *testing.T) {
		setRequired(t)
		t.Setenv("VXSKY_BASE_URL", "https://vxsky.example/")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "https://vxsky.example", cfg.BaseURL)
	})

	t.Run("overrides respected", func(t *testing.T) {
		setRequired(t)
		t.Setenv("VXSKY_SERVICE_URL", "https://pds.example")
		t.Setenv("PORT", "9090")
		t.Setenv("ENVIRONMENT", "production")
		t.Setenv("ENABLE_METRICS", "false")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "https://pds.example", cfg.ServiceURL)
		assert.Equal(t, "9090", cfg.Port)
		assert.True(t, cfg.IsProduction())
		assert.False(t, cfg.MetricsEnable)
	})

	t.Run("missing required variables reported together", func(t *testing.T) {
		t.Setenv("VXSKY_BASE_URL", "")
		t.Setenv("VXSKY_IDENTIFIER", "")
		t.Setenv("VXSKY_APP_PASSWORD", "")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "VXSKY_BASE_URL")
		assert.Contains(t, err.Error(), "VXSKY_IDENTIFIER")
		assert.Contains(t, err.Error(), "VXSKY_APP_PASSWORD")
	})
}
