package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guardrails.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFile_Flat(t *testing.T) {
	path := writeFile(t, `
initialEquityUsd: 10000
positionLimits:
  maxPerPositionUsd: 5000
  maxPerAssetUsd:
    eth: 3000
protected:
  workflows: [open_perp]
`)

	g, err := LoadFile(path, "")
	require.NoError(t, err)
	assert.True(t, g.Enabled)
	assert.Equal(t, 5000.0, g.PositionLimits.MaxPerPositionUSD)
	assert.Equal(t, 3000.0, g.PositionLimits.MaxPerAssetUSD["ETH"])
	assert.True(t, g.IsWorkflowProtected("open_perp"))
}

func TestLoadFile_GuardrailsRoot(t *testing.T) {
	path := writeFile(t, `
guardrails:
  initial_equity_usd: 500
  portfolio_limits:
    stop_loss_pct: 0.1
`)

	g, err := LoadFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, 0.1, g.PortfolioLimits.StopLossPct)
}

func TestLoadFile_Profiles(t *testing.T) {
	path := writeFile(t, `
profiles:
  default:
    initialEquityUsd: 1000
  aggressive:
    initialEquityUsd: 50000
`)

	g, err := LoadFile(path, "aggressive")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, g.InitialEquityUSD)

	t.Setenv("GUARDRAIL_PROFILE", "aggressive")
	g, err = LoadFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, g.InitialEquityUSD, "profile comes only from the argument")

	_, err = LoadFile(path, "missing")
	assert.ErrorContains(t, err, "profile missing not found")
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.ErrorContains(t, err, "failed to read guardrails file")

	_, err = LoadFile(writeFile(t, "initialEquityUsd: [1"), "")
	assert.ErrorContains(t, err, "failed to parse guardrails yaml")

	_, err = LoadFile(writeFile(t, "initialEquityUsd: -1"), "")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}
