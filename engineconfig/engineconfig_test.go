package engineconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigDurations(t *testing.T) {
	c := DefaultConfig
	require.Equal(t, 30*time.Second, c.TickInterval())
	require.Equal(t, 5*time.Second, c.QueueInterval())
	require.Equal(t, 5*time.Minute, c.StuckThreshold())
	require.Equal(t, 10*time.Minute, c.PostCloseSettleGuard())
	require.Equal(t, 7*24*time.Hour, c.LateDepositWindow())
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	body := `
tick_interval_ms = 15000
max_gas_bump_attempts = 3
gas_reimbursement_enabled = false

[dust_threshold]
"ETH@ETH" = "0.0000005"

[reimbursement_asset]
ETH = "USDC@ETH"

[[chains]]
ChainID = "ETH"
Family = "EVM"
NativeAsset = "ETH@ETH"
ConfirmThreshold = 12
CollectConfirms = 6
BrokerAvailable = true

[[assets]]
Code = "ETH@ETH"
ChainID = "ETH"
Native = true
Decimals = 18

[[assets]]
Code = "USDC@ETH"
ChainID = "ETH"
Native = false
Decimals = 6
ContractAddr = "0xusdc"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, int64(15000), cfg.TickIntervalMS)
	require.Equal(t, 3, cfg.MaxGasBumpAttempts)
	require.False(t, cfg.GasReimbursementEnabled)
	require.Equal(t, int64(5000), cfg.QueueIntervalMS) // untouched default survives

	dust, err := cfg.DustThresholds()
	require.NoError(t, err)
	require.True(t, dust["ETH@ETH"].String() != "")

	registry := cfg.BuildAssetRegistry()
	spec, err := registry.Asset("USDC@ETH")
	require.NoError(t, err)
	require.Equal(t, "0xusdc", spec.ContractAddr)

	chain, err := registry.Chain("ETH")
	require.NoError(t, err)
	require.True(t, chain.BrokerAvailable)
	require.Equal(t, 12, chain.ConfirmThreshold)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte("not_a_real_field = 1\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
