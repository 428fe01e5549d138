// Package repository declares the persistence contract the core
// depends on (spec.md §6): typed CRUD on deals, deposits, queue items
// and accounts, plus the transactional envelope every multi-row write
// runs inside. See repository/sqlrepo for the MySQL/gorm-backed
// implementation.
package repository

import (
	"context"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
)

// Tx is a single transactional scope at serializable isolation (§5).
// Every repository method below that mutates more than one row accepts
// one; read-only helpers may be called with or without.
type Tx interface {
	Commit() error
	Rollback() error
}

// Store opens transactions and exposes every repository facet. One
// Store implementation backs all facets, since the spec requires
// multi-row writes (enqueue + stage transition, nonce reservation +
// submission record) to share a single transaction.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	Deals() DealRepo
	Deposits() DepositRepo
	Queue() QueueRepo
	Accounts() AccountRepo
	Payouts() PayoutRepo
	GasFundings() GasFundingRepo
	Alerts() AlertRepo
}

// DealRepo is the Deal facet of §6.
type DealRepo interface {
	GetActiveDeals(ctx context.Context, tx Tx) ([]*deal.Deal, error)
	// GetDealsInStages returns every deal currently in one of stages,
	// used by the post-close late-deposit watcher to find CLOSED and
	// REVERTED deals still within their 7-day residual window (§4.5).
	GetDealsInStages(ctx context.Context, tx Tx, stages ...deal.Stage) ([]*deal.Deal, error)
	Get(ctx context.Context, tx Tx, dealID string) (*deal.Deal, error)
	Update(ctx context.Context, tx Tx, d *deal.Deal) error
	UpdateStage(ctx context.Context, tx Tx, dealID string, newStage deal.Stage) error
	AddEvent(ctx context.Context, tx Tx, dealID string, e deal.Event) error
}

// DepositRepo is the EscrowDeposit facet of §6.
type DepositRepo interface {
	Upsert(ctx context.Context, tx Tx, dealID string, d deal.EscrowDeposit, chainID, escrowAddress string, synthetic bool) error
}

// QueueRepo is the QueueItem facet of §6.
type QueueRepo interface {
	Enqueue(ctx context.Context, tx Tx, item *queueitem.QueueItem) error
	GetByDeal(ctx context.Context, tx Tx, dealID string) ([]*queueitem.QueueItem, error)
	GetNextPending(ctx context.Context, tx Tx, dealID, address string, phase queueitem.Phase, chainID string) (*queueitem.QueueItem, error)
	GetAll(ctx context.Context, tx Tx, status queueitem.Status) ([]*queueitem.QueueItem, error)
	UpdateStatus(ctx context.Context, tx Tx, queueID string, status queueitem.Status, txRef *queueitem.TxRef) error
	UpdateSubmissionMetadata(ctx context.Context, tx Tx, queueID string, lastSubmitAt int64, originalNonce *uint64, lastGasPrice string) error
	IncrementGasBumpAttempts(ctx context.Context, tx Tx, queueID string) (int, error)
	GetPhaseItems(ctx context.Context, tx Tx, dealID string, phase queueitem.Phase) ([]*queueitem.QueueItem, error)
	HasPhaseCompleted(ctx context.Context, tx Tx, dealID string, phase queueitem.Phase) (bool, error)
	ValidateNonceSequence(ctx context.Context, tx Tx, chainID, address string) error
	FindNonceConflict(ctx context.Context, tx Tx, chainID, address, nonceOrInputs, excludeQueueID string) (*queueitem.QueueItem, error)
	GetHighestQueuedNonce(ctx context.Context, tx Tx, chainID, address string) (*uint64, error)
}

// AccountRepo is the AccountNonceState facet of §6 and the §4.6
// reservation contract. Implementations must make ReserveNextNonce
// atomic under concurrent callers — a compare-and-swap or a single-row
// UPDATE...RETURNING, never read-then-write across two round trips.
type AccountRepo interface {
	// ReserveNextNonce atomically reserves and returns the next nonce
	// for (chainID, address). If initialNonce is non-nil and no record
	// exists yet, it seeds NextNonce with *initialNonce before
	// reserving. Reservation failures are signalled by the returned
	// value, never by error (§4.6): callers compare it against their
	// own expectation and treat a mismatch as a sequence violation.
	ReserveNextNonce(ctx context.Context, tx Tx, chainID, address string, initialNonce *uint64) (uint64, error)
	GetNextNonce(ctx context.Context, tx Tx, chainID, address string) (*queueitem.AccountNonceState, error)
	ResetNonce(ctx context.Context, tx Tx, chainID, address string) error
	UpdateLastConfirmedNonce(ctx context.Context, tx Tx, chainID, address string, nonce uint64) error
}

// PayoutRepo is the optional Payout facet (§6), used for UTXO
// multi-tx payouts.
type PayoutRepo interface {
	Create(ctx context.Context, tx Tx, p *queueitem.Payout) error
	Get(ctx context.Context, tx Tx, payoutID string) (*queueitem.Payout, error)
	UpdateStatus(ctx context.Context, tx Tx, payoutID string, status queueitem.TxRefStatus, minConfirms int) error
}

// GasFundingRepo persists §3's GasFunding ledger entries.
type GasFundingRepo interface {
	Record(ctx context.Context, tx Tx, g *queueitem.GasFunding) error
	Get(ctx context.Context, tx Tx, dealID, chainID, escrowAddress string) (*queueitem.GasFunding, error)
}

// AlertRepo persists the operator-facing alerts SPEC_FULL.md's
// supplemented alert sink raises (nonce collisions, gas-bump
// exhaustion).
type AlertRepo interface {
	Record(ctx context.Context, tx Tx, dealID, kind, message string) error
}
