// Package chainadapter declares the per-chain capability interface the
// core depends on (spec.md §6). Implementations — one per chain
// family, EVM and UTXO alike — live outside this module; the core
// holds only a lookup from chain id to Adapter, built at startup.
package chainadapter

import (
	"context"

	"github.com/klaytn-labs/otc-broker-engine/decimal"
)

// SendOptions carries the optional fee parameters a submission may
// override — a fresh nonce reservation, a bumped gas price, or
// EIP-1559 fee fields.
type SendOptions struct {
	Nonce               *uint64
	GasPrice            decimal.D
	MaxFeePerGas        decimal.D
	MaxPriorityFeePerGas decimal.D
}

// SendResult is what a successful submission yields.
type SendResult struct {
	Txid            string
	SubmittedAt     int64 // unix seconds, adapter's clock
	NonceOrInputs   string
	GasPrice        decimal.D
	AdditionalTxids []string
}

// FeeData is the adapter's current view of network fees (account-based
// chains only).
type FeeData struct {
	GasPrice             decimal.D
	MaxFeePerGas         decimal.D
	MaxPriorityFeePerGas decimal.D
}

// ExistingTransfer is the result of an idempotency probe: an
// already-observed on-chain transfer matching the requested one.
type ExistingTransfer struct {
	Txid        string
	BlockNumber uint64
}

// DepositListing is the result of listing an escrow's deposits at a
// confirmation threshold.
type DepositListing struct {
	Deposits       []DepositObservation
	TotalConfirmed decimal.D
}

// DepositObservation is one chain-observed deposit, pre-merge into a
// deal.EscrowDeposit (kept adapter-local so this package does not
// depend on deal).
type DepositObservation struct {
	Txid        string
	Index       *int
	Amount      decimal.D
	Asset       string
	BlockHeight *uint64
	BlockTime   *int64 // unix seconds
	Confirms    int
	Synthetic   bool
}

// EscrowWithKey is an escrow address plus the opaque key handle the
// adapter needs to sign from it.
type EscrowWithKey struct {
	Address   string
	KeyHandle string
}

// GasReceipt is the observed cost of a mined transaction, consumed by
// the gas-reimbursement calculator (§4.8).
type GasReceipt struct {
	GasUsed  uint64
	GasPrice decimal.D
}

// BrokerParams carries the arguments for an atomic broker-contract
// call (§4.4).
type BrokerParams struct {
	Payback      string
	Recipient    string
	FeeRecipient string
	Fees         decimal.D
	Amount       decimal.D
	Asset        string
	From         EscrowWithKey
}

// Adapter is the per-chain capability contract consumed by the core
// (spec.md §6). One implementation exists per supported chain; none
// are provided by this module.
type Adapter interface {
	ListConfirmedDeposits(ctx context.Context, asset, address string, minConfirms int) (DepositListing, error)

	Send(ctx context.Context, asset string, from EscrowWithKey, to string, amount decimal.D, opts SendOptions) (SendResult, error)

	GetTxConfirmations(ctx context.Context, txid string) (int, error)

	GetConfirmationThreshold() int
	GetCollectConfirms() int
	GetOperatorAddress() string
	GetManagedAddress(ref EscrowWithKey) (string, error)

	// GetTankAddress is the gas-sponsoring tank wallet for this chain,
	// the recipient of GAS_REIMBURSEMENT items (§4.8). Empty when no
	// tank wallet is configured for the chain.
	GetTankAddress() string

	// Account-based chains only.
	GetCurrentNonce(ctx context.Context, address string) (uint64, error)
	GetCurrentGasPrice(ctx context.Context) (FeeData, error)
	IsTransactionStuck(ctx context.Context, txid string) (bool, error)

	CheckExistingTransfer(ctx context.Context, from EscrowWithKey, to, asset string, amount decimal.D) (*ExistingTransfer, error)

	IsBrokerAvailable() bool
	SwapViaBroker(ctx context.Context, params BrokerParams) (SendResult, error)
	RevertViaBroker(ctx context.Context, params BrokerParams) (SendResult, error)
	RefundViaBroker(ctx context.Context, params BrokerParams) (SendResult, error)

	// IsUTXO distinguishes UTXO chains, which require the §4.4 phase
	// ordering discipline, from account-based ones, which don't.
	IsUTXO() bool

	// GetGasReceipt and GetUSDRate back the §4.8 gas-reimbursement
	// calculator: the receipt of the just-confirmed SWAP_PAYOUT tx, and
	// a USD/asset rate for the native gas token and the reimbursement
	// token alike. GetBalance reports an address's current balance of
	// asset, used to confirm the escrow can cover the reimbursement
	// before it is queued.
	GetGasReceipt(ctx context.Context, txid string) (GasReceipt, error)
	GetUSDRate(ctx context.Context, asset string) (decimal.D, error)
	GetBalance(ctx context.Context, asset, address string) (decimal.D, error)
}

// Registry resolves a chain id to its Adapter, built once at startup
// (§9 design notes: "dynamic per-chain behaviour... modelled as a
// capability interface implemented once per chain family").
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(chainID string, a Adapter) {
	r.adapters[chainID] = a
}

func (r *Registry) Get(chainID string) (Adapter, bool) {
	a, ok := r.adapters[chainID]
	return a, ok
}
