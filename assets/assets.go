// Package assets resolves symbolic asset codes to chain, decimals and
// contract address, and exposes per-chain confirmation thresholds and
// native-token identifiers. It is pure lookup state, populated once at
// startup from engineconfig and never mutated afterward.
package assets

import (
	"fmt"
	"sync"
)

// ChainFamily distinguishes the two settlement models the core must
// reason about: account-based EVM chains and UTXO chains.
type ChainFamily int

const (
	FamilyEVM ChainFamily = iota
	FamilyUTXO
)

// ChainParams describes one supported chain.
type ChainParams struct {
	ChainID          string
	Family           ChainFamily
	NativeAsset      string // canonical asset code of the chain's native token
	ConfirmThreshold int    // get_confirmation_threshold() — used when listing deposits
	CollectConfirms  int    // get_collect_confirms() — used for lock evaluation, §4.2
	BrokerAvailable  bool   // whether a broker contract is configured for this chain
}

// AssetSpec resolves a canonical asset code to its chain placement.
type AssetSpec struct {
	Code          string // canonical code, always chain-suffixed e.g. "USDC@ETH"
	ChainID        string
	Native        bool
	Decimals      int32
	ContractAddr  string // empty for native assets
	FixedFeeAsset string // set when an ERC20 trade asset carries a configured flat fee, same-asset (§4.1)
}

// Registry is the resolved, read-only set of chains and assets.
type Registry struct {
	mu     sync.RWMutex
	chains map[string]ChainParams
	assets map[string]AssetSpec
}

// NewRegistry builds an empty registry; use RegisterChain/RegisterAsset
// (typically from engineconfig at startup) to populate it.
func NewRegistry() *Registry {
	return &Registry{
		chains: make(map[string]ChainParams),
		assets: make(map[string]AssetSpec),
	}
}

func (r *Registry) RegisterChain(p ChainParams) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[p.ChainID] = p
}

func (r *Registry) RegisterAsset(a AssetSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[a.Code] = a
}

func (r *Registry) Chain(chainID string) (ChainParams, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.chains[chainID]
	if !ok {
		return ChainParams{}, fmt.Errorf("assets: unknown chain %q", chainID)
	}
	return p, nil
}

func (r *Registry) Asset(code string) (AssetSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[code]
	if !ok {
		return AssetSpec{}, fmt.Errorf("assets: unknown asset %q", code)
	}
	return a, nil
}

// Decimals is a convenience accessor used throughout invariants/decimal
// rounding call sites.
func (r *Registry) Decimals(code string) (int32, error) {
	a, err := r.Asset(code)
	if err != nil {
		return 0, err
	}
	return a.Decimals, nil
}

// IsNative reports whether code is the native asset of its chain.
func (r *Registry) IsNative(code string) (bool, error) {
	a, err := r.Asset(code)
	if err != nil {
		return false, err
	}
	return a.Native, nil
}
