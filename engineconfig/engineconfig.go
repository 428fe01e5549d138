// Package engineconfig is the configuration surface of spec.md §6: the
// driver intervals, thresholds and per-chain/per-asset registry seed
// data the engine package needs at startup. Loading follows the
// teacher's cmd/ranger/config.go convention — a strict-field TOML
// decode via github.com/naoina/toml, so a misspelled config key fails
// fast instead of silently defaulting.
package engineconfig

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/naoina/toml"

	"github.com/klaytn-labs/otc-broker-engine/assets"
	"github.com/klaytn-labs/otc-broker-engine/decimal"
)

// tomlSettings mirrors the teacher's cmd/ranger/config.go: TOML keys
// use the same casing as the Go struct fields, and an unrecognised key
// is a load error rather than a silent no-op.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("engineconfig: field %q is not defined in %s", field, rt.String())
	},
}

// ChainConfig seeds one entry of the assets.Registry's chain table.
type ChainConfig struct {
	ChainID          string
	Family           string // "EVM" or "UTXO"
	NativeAsset      string
	ConfirmThreshold int
	CollectConfirms  int
	BrokerAvailable  bool
}

// AssetConfig seeds one entry of the assets.Registry's asset table.
type AssetConfig struct {
	Code          string
	ChainID       string
	Native        bool
	Decimals      int32
	ContractAddr  string `toml:",omitempty"`
	FixedFeeAsset string `toml:",omitempty"`
}

// Config is the full engine configuration surface (§6).
type Config struct {
	TickIntervalMS            int64 `toml:"tick_interval_ms"`
	QueueIntervalMS           int64 `toml:"queue_interval_ms"`
	StuckThresholdMS          int64 `toml:"stuck_threshold_ms"`           // in-flight gas-bump sweep
	PostCloseStuckThresholdMS int64 `toml:"post_close_stuck_threshold_ms"` // late-deposit settle guard
	MaxGasBumpAttempts        int   `toml:"max_gas_bump_attempts"`
	LateDepositWindowDays     int   `toml:"late_deposit_window_days"`

	// DustThreshold maps an asset code to its "non-dust" floor as a
	// decimal string; an asset absent from this map falls back to the
	// engine-wide default of 10⁻⁶.
	DustThreshold map[string]string `toml:"dust_threshold"`

	GasReimbursementEnabled bool `toml:"gas_reimbursement_enabled"`
	// ReimbursementAsset maps a chain id to the canonical asset code
	// the tank wallet is reimbursed in on that chain.
	ReimbursementAsset map[string]string `toml:"reimbursement_asset"`

	Chains []ChainConfig `toml:"chains"`
	Assets []AssetConfig `toml:"assets"`
}

// DefaultConfig holds every numeric default named in spec.md §6.
var DefaultConfig = Config{
	TickIntervalMS:            30000,
	QueueIntervalMS:           5000,
	StuckThresholdMS:          300000,
	PostCloseStuckThresholdMS: 600000,
	MaxGasBumpAttempts:        5,
	LateDepositWindowDays:     7,
	GasReimbursementEnabled:   true,
}

// Load reads and strictly decodes a TOML file over a copy of
// DefaultConfig, so an operator's file only needs to set what it wants
// to override.
func Load(path string) (Config, error) {
	cfg := DefaultConfig
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		var lineErr *toml.LineError
		if errors.As(err, &lineErr) {
			return Config{}, fmt.Errorf("%s, %w", path, err)
		}
		return Config{}, err
	}
	return cfg, nil
}

// TickInterval, QueueInterval, StuckThreshold, PostCloseSettleGuard and
// LateDepositWindow convert the config fields into time.Duration. Only
// TickInterval and QueueInterval are read by the engine. queueproc.New
// and latedeposit.New use fixed values of their own (5-minute stuck
// threshold, 5 gas-bump attempts, 7-day window, 5-minute settle
// guard), so StuckThresholdMS, PostCloseStuckThresholdMS,
// MaxGasBumpAttempts and LateDepositWindowDays do not change how the
// engine runs.
func (c Config) TickInterval() time.Duration  { return time.Duration(c.TickIntervalMS) * time.Millisecond }
func (c Config) QueueInterval() time.Duration { return time.Duration(c.QueueIntervalMS) * time.Millisecond }
func (c Config) StuckThreshold() time.Duration {
	return time.Duration(c.StuckThresholdMS) * time.Millisecond
}
func (c Config) PostCloseSettleGuard() time.Duration {
	return time.Duration(c.PostCloseStuckThresholdMS) * time.Millisecond
}
func (c Config) LateDepositWindow() time.Duration {
	return time.Duration(c.LateDepositWindowDays) * 24 * time.Hour
}

// BuildAssetRegistry constructs an assets.Registry from the Chains and
// Assets tables.
func (c Config) BuildAssetRegistry() *assets.Registry {
	r := assets.NewRegistry()
	for _, ch := range c.Chains {
		family := assets.FamilyEVM
		if ch.Family == "UTXO" {
			family = assets.FamilyUTXO
		}
		r.RegisterChain(assets.ChainParams{
			ChainID:          ch.ChainID,
			Family:           family,
			NativeAsset:      ch.NativeAsset,
			ConfirmThreshold: ch.ConfirmThreshold,
			CollectConfirms:  ch.CollectConfirms,
			BrokerAvailable:  ch.BrokerAvailable,
		})
	}
	for _, a := range c.Assets {
		r.RegisterAsset(assets.AssetSpec{
			Code:          a.Code,
			ChainID:       a.ChainID,
			Native:        a.Native,
			Decimals:      a.Decimals,
			ContractAddr:  a.ContractAddr,
			FixedFeeAsset: a.FixedFeeAsset,
		})
	}
	return r
}

// DustThresholds parses DustThreshold into decimal.D, ready for
// latedeposit.New.
func (c Config) DustThresholds() (map[string]decimal.D, error) {
	out := make(map[string]decimal.D, len(c.DustThreshold))
	for asset, s := range c.DustThreshold {
		d, err := decimal.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("engineconfig: invalid dust_threshold for %s: %w", asset, err)
		}
		out[asset] = d
	}
	return out, nil
}
