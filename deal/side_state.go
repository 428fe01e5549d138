package deal

import (
	"encoding/json"
	"time"

	"github.com/klaytn-labs/otc-broker-engine/decimal"
)

// EscrowDeposit is one observed deposit into a side's escrow address
// (§3). Deposits are keyed by (Txid, Index); merging a re-observed
// deposit replaces the stored entry for that key, so Confirms follows
// the latest observation and can drop after a reorg.
type EscrowDeposit struct {
	Txid        string
	Index       *int // UTXO vout / log index; nil for account-based deposits without one
	Amount      decimal.D
	Asset       string // canonical, chain-suffixed
	BlockHeight *uint64
	BlockTime   *time.Time
	Confirms    int
	Synthetic   bool // true for balance-derived pseudo-deposits from account-based adapters
}

// Key returns the (txid, index) identity used for upsert/merge.
func (d EscrowDeposit) Key() DepositKey {
	idx := -1
	if d.Index != nil {
		idx = *d.Index
	}
	return DepositKey{Txid: d.Txid, Index: idx}
}

// DepositKey is the unique identity of an EscrowDeposit.
type DepositKey struct {
	Txid  string
	Index int
}

// SideState is the per-side mutable state of a Deal (§3).
type SideState struct {
	Deposits         map[DepositKey]EscrowDeposit
	CollectedByAsset map[string]decimal.D
	Locks            Locks
}

// NewSideState returns an empty, initialized SideState.
func NewSideState() SideState {
	return SideState{
		Deposits:         make(map[DepositKey]EscrowDeposit),
		CollectedByAsset: make(map[string]decimal.D),
	}
}

// MergeDeposit upserts d into the side's deposit set by (txid, index):
// a new key is inserted, an existing key has its mutable fields (in
// particular Confirms) updated in place. Never removes a deposit.
func (s *SideState) MergeDeposit(d EscrowDeposit) {
	if s.Deposits == nil {
		s.Deposits = make(map[DepositKey]EscrowDeposit)
	}
	s.Deposits[d.Key()] = d
}

// AllDeposits returns every deposit currently known for the side,
// pending and confirmed alike (used for CREATED/COLLECTION raw totals).
func (s *SideState) AllDeposits() []EscrowDeposit {
	out := make([]EscrowDeposit, 0, len(s.Deposits))
	for _, d := range s.Deposits {
		out = append(out, d)
	}
	return out
}

// sideStateWire is SideState's JSON shape: Deposits as a slice rather
// than a map, since DepositKey isn't a valid encoding/json map key
// type. sqlrepo's JSON-blob persistence is what this serves.
type sideStateWire struct {
	Deposits         []EscrowDeposit
	CollectedByAsset map[string]decimal.D
	Locks            Locks
}

func (s SideState) MarshalJSON() ([]byte, error) {
	return json.Marshal(sideStateWire{
		Deposits:         s.AllDeposits(),
		CollectedByAsset: s.CollectedByAsset,
		Locks:            s.Locks,
	})
}

func (s *SideState) UnmarshalJSON(b []byte) error {
	var wire sideStateWire
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	s.Deposits = make(map[DepositKey]EscrowDeposit, len(wire.Deposits))
	for _, d := range wire.Deposits {
		s.Deposits[d.Key()] = d
	}
	s.CollectedByAsset = wire.CollectedByAsset
	s.Locks = wire.Locks
	return nil
}
