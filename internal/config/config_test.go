package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "btc-loan-sentinel", cfg.App.Name)
	assert.Equal(t, 300, cfg.Oracle.TWAPWindowSeconds)
	assert.Equal(t, 10, cfg.Oracle.CircuitBreakerPct)
	assert.Equal(t, 1, cfg.Oracle.MinSources)
	assert.EqualValues(t, 5000, cfg.Oracle.PricePollIntervalMS)
}

func TestValidate_RejectsNonPositivePollInterval(t *testing.T) {
	cfg := &Config{Oracle: OracleConfig{
		TWAPWindowSeconds:   300,
		CircuitBreakerPct:   10,
		MinSources:          1,
		PricePollIntervalMS: 0,
	}}
	assert.Error(t, cfg.Validate())
}

func TestValidate_RequiresBotTokenWhenNotifyEnabled(t *testing.T) {
	cfg := &Config{Oracle: OracleConfig{
		TWAPWindowSeconds:   300,
		CircuitBreakerPct:   10,
		MinSources:          1,
		PricePollIntervalMS: 5000,
	}, Notify: NotifyConfig{Enabled: true}}
	assert.Error(t, cfg.Validate())
}
