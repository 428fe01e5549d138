// Package queueitem holds the outgoing-transaction data model: the
// QueueItem the transfer planner produces, the TxRef a submission
// yields, the per-account nonce bookkeeping and the optional Payout
// aggregation for UTXO multi-tx settlements. See SPEC_FULL.md §3.
package queueitem

import (
	"time"

	"github.com/klaytn-labs/otc-broker-engine/decimal"
)

// Purpose is why a QueueItem exists (§3).
type Purpose string

const (
	PurposeSwapPayout       Purpose = "SWAP_PAYOUT"
	PurposeOpCommission     Purpose = "OP_COMMISSION"
	PurposeSurplusRefund    Purpose = "SURPLUS_REFUND"
	PurposeTimeoutRefund    Purpose = "TIMEOUT_REFUND"
	PurposeGasRefundToTank  Purpose = "GAS_REFUND_TO_TANK"
	PurposeGasReimbursement Purpose = "GAS_REIMBURSEMENT"
	PurposeBrokerSwap       Purpose = "BROKER_SWAP"
	PurposeBrokerRevert     Purpose = "BROKER_REVERT"
	PurposeBrokerRefund     Purpose = "BROKER_REFUND"
)

// IsBroker reports whether p is one of the atomic broker-path purposes
// that bypass nonce reservation (§4.5.c).
func (p Purpose) IsBroker() bool {
	return p == PurposeBrokerSwap || p == PurposeBrokerRevert || p == PurposeBrokerRefund
}

// Phase orders UTXO-chain queue items into the three waves of §4.4.
// Unset (Phase("")) on non-UTXO chains.
type Phase string

const (
	PhaseNone        Phase = ""
	Phase1Swap       Phase = "PHASE_1_SWAP"
	Phase2Commission Phase = "PHASE_2_COMMISSION"
	Phase3Refund     Phase = "PHASE_3_REFUND"
)

// Status is a QueueItem's lifecycle position (§3).
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSubmitted Status = "SUBMITTED"
	StatusCompleted Status = "COMPLETED"
	// StatusCancelled marks a PENDING item withdrawn by a WAITING-stage
	// reorg rollback (§4.3) before it was ever submitted. A cancelled
	// item is excluded from both the queue processor's PENDING scan and
	// the stage machine's "all items completed" check.
	StatusCancelled Status = "CANCELLED"
)

// Endpoint identifies a transfer's sending escrow, carrying the signing
// key handle the adapter needs (mirrors deal.EscrowRef but queueitem
// must not import deal, to keep the dependency direction leaf-ward).
type Endpoint struct {
	ChainID   string
	Address   string
	KeyHandle string
}

// QueueItem is one planned outgoing transaction (§3).
type QueueItem struct {
	QueueID string

	DealID  string
	ChainID string
	From    Endpoint
	To      string
	Asset   string
	Amount  decimal.D
	Purpose Purpose

	Phase Phase
	Seq   int64

	Status Status

	// Broker-specific.
	Payback      string
	Recipient    string
	FeeRecipient string
	Fees         decimal.D

	// Runtime.
	SubmittedTx     *TxRef
	GasBumpAttempts int
	LastSubmitAt    time.Time
	OriginalNonce   *uint64
	LastGasPrice    decimal.D
}

// TxRefStatus is the on-chain status of a submitted transaction.
type TxRefStatus string

const (
	TxPending   TxRefStatus = "PENDING"
	TxConfirmed TxRefStatus = "CONFIRMED"
	TxDropped   TxRefStatus = "DROPPED"
	TxReplaced  TxRefStatus = "REPLACED"
)

// TxRef is the result of submitting a QueueItem (§3).
type TxRef struct {
	ChainID          string
	Txid             string
	SubmittedAt      time.Time
	Confirmations    int
	RequiredConfirms int
	Status           TxRefStatus
	NonceOrInputs    string // serialized nonce (account chains) or UTXO input set descriptor
	AdditionalTxids  []string
	GasUsed          *uint64
	GasPrice         decimal.D
}

// EffectiveConfirmations is the minimum confirmation count across a
// TxRef and any AdditionalTxids — the UTXO multi-tx aggregate rule of
// §4.7.
func (t *TxRef) EffectiveConfirmations(lookup func(txid string) int) int {
	if len(t.AdditionalTxids) == 0 {
		return t.Confirmations
	}
	min := t.Confirmations
	for _, txid := range t.AdditionalTxids {
		c := lookup(txid)
		if c < min {
			min = c
		}
	}
	return min
}

// AccountNonceState is the per-(chain,address) nonce bookkeeping of
// §4.6. A missing record (the repository returns ok=false) means the
// next reservation must first read the chain's current nonce.
type AccountNonceState struct {
	ChainID            string
	Address            string
	NextNonce          uint64
	LastConfirmedNonce uint64
}

// Payout links multiple QueueItems fulfilling one logical payment,
// used for UTXO multi-tx payouts (§3). The linkage is optional per
// Open Question 3 in spec.md §9.
type Payout struct {
	PayoutID         string
	DealID           string
	QueueItemIDs     []string
	MinConfirms      int
	RequiredConfirms int
	Status           TxRefStatus
}

// IsConfirmed reports whether every linked item is COMPLETED and the
// minimum confirmation count across them meets the threshold.
func (p *Payout) IsConfirmed(itemStatuses map[string]Status) bool {
	for _, id := range p.QueueItemIDs {
		if itemStatuses[id] != StatusCompleted {
			return false
		}
	}
	return p.MinConfirms >= p.RequiredConfirms
}

// GasFunding records a tank-wallet top-up to an escrow address, keyed
// by (DealID, ChainID, EscrowAddress) (§3). The tank wallet itself is
// an external collaborator (spec.md §1); this is only the ledger entry
// the core keeps of having asked for one.
type GasFunding struct {
	DealID        string
	ChainID       string
	EscrowAddress string
	Amount        decimal.D
	Txid          string
	FundedAt      time.Time
}
