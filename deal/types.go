// Package deal holds the root aggregate of the broker engine: the Deal
// entity, its per-side state, deposits and events. The stage machine
// that advances it lives in package stagemachine. See SPEC_FULL.md §3
// for the full data model.
package deal

import (
	"time"

	"github.com/klaytn-labs/otc-broker-engine/decimal"
)

// Stage is one of the six legal lifecycle states of a Deal (§3
// invariant 1). The zero value is never a valid persisted stage —
// CREATED is the first stage but is always set explicitly.
type Stage string

const (
	StageCreated    Stage = "CREATED"
	StageCollection Stage = "COLLECTION"
	StageWaiting    Stage = "WAITING"
	StageSwap       Stage = "SWAP"
	StageReverted   Stage = "REVERTED"
	StageClosed     Stage = "CLOSED"
)

// CommissionMode selects how a side's commission requirement is
// computed (§4.1).
type CommissionMode string

const (
	CommissionPercentBPS     CommissionMode = "PERCENT_BPS"
	CommissionFixedUSDNative CommissionMode = "FIXED_USD_NATIVE"
)

// CommissionRequirement is frozen into the deal at creation time (Open
// Question 2 — this spec adopts frozen-at-creation).
type CommissionRequirement struct {
	Mode        CommissionMode
	BPS         int32       // used when Mode == PERCENT_BPS
	FixedAmount decimal.D   // used when Mode == FIXED_USD_NATIVE, frozen native/stablecoin amount
	Asset       string      // canonical commission asset code
	FixedFee    decimal.D   // additional flat fee for ERC20 trade assets, same asset as trade (§4.1)
}

// CommissionPlan is the per-deal, per-side frozen commission schedule.
type CommissionPlan struct {
	AliceCommission CommissionRequirement
	BobCommission   CommissionRequirement
}

// PartySpec is one side's immutable trade terms.
type PartySpec struct {
	ChainID string
	Asset   string // canonical asset code
	Amount  decimal.D
}

// EscrowRef identifies a party-specific escrow address together with an
// opaque handle the chain adapter uses to sign from it. The core never
// inspects the key material itself.
type EscrowRef struct {
	ChainID   string
	Address   string
	KeyHandle string
}

// PartyDetails carries the two addresses a side contributes once known.
type PartyDetails struct {
	PaybackAddress   string
	RecipientAddress string
}

// Locks records when a side became trade/commission locked (§4.2).
// Zero time means unset.
type Locks struct {
	TradeLockedAt      time.Time
	CommissionLockedAt time.Time
}

func (l Locks) IsFullyLocked() bool {
	return !l.TradeLockedAt.IsZero() && !l.CommissionLockedAt.IsZero()
}

// GasReimbursementStatus is the idempotency state machine of §4.8.
type GasReimbursementStatus string

const (
	GasReimbursementNone        GasReimbursementStatus = ""
	GasReimbursementPendingCalc GasReimbursementStatus = "PENDING_CALCULATION"
	GasReimbursementCalculated  GasReimbursementStatus = "CALCULATED"
	GasReimbursementQueued      GasReimbursementStatus = "QUEUED"
	GasReimbursementCompleted   GasReimbursementStatus = "COMPLETED"
	GasReimbursementSkipped     GasReimbursementStatus = "SKIPPED"
)

// GasReimbursementCalculation is the §4.8 calculation record.
type GasReimbursementCalculation struct {
	ActualGasUsed     uint64
	GasPrice          decimal.D
	EstimatedTotalGas uint64
	NativeCostWei     decimal.D
	NativeUSDValue    decimal.D
	NativeUSDRate     decimal.D
	TokenUSDRate      decimal.D
	TokenAmount       decimal.D
	CalculatedAt      time.Time
}

// GasReimbursement is the sub-record attached to a Deal (§3).
type GasReimbursement struct {
	Status        GasReimbursementStatus
	Calculation   *GasReimbursementCalculation
	SkippedReason string
	QueueItemID   string
}

// Deal is the root aggregate (§3).
type Deal struct {
	DealID string

	// Immutable at creation.
	AliceSpec      PartySpec
	BobSpec        PartySpec
	TimeoutSeconds int64
	CommissionPlan CommissionPlan

	// Mutable.
	Stage     Stage
	ExpiresAt time.Time // zero means unset

	EscrowA EscrowRef
	EscrowB EscrowRef

	AliceDetails *PartyDetails
	BobDetails   *PartyDetails

	SideA SideState
	SideB SideState

	GasReimbursement GasReimbursement

	Events []Event

	CreatedAt        time.Time
	LastTransitionAt time.Time
}

// BothDetailsPresent reports whether both parties have supplied their
// payback/recipient addresses — the CREATED→COLLECTION gate.
func (d *Deal) BothDetailsPresent() bool {
	return d.AliceDetails != nil && d.BobDetails != nil
}

// AgeSinceTransition returns how long the deal has sat in its current
// stage, used by the late-deposit watcher's 5-minute settle guard.
func (d *Deal) AgeSinceTransition(now time.Time) time.Duration {
	return now.Sub(d.LastTransitionAt)
}
