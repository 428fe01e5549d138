package chainadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/klaytn-labs/otc-broker-engine/decimal"
)

// Fake is an in-memory Adapter used by engine/queueproc/confirmmonitor
// tests. It is not a mock in the gomock sense (the teacher's
// `//go:generate mockgen` convention, see chaindatafetcher.go, is the
// grounding for an interface-first design) — a hand-rolled fake reads
// more naturally for the scripted multi-step scenarios these tests
// need (fund, submit, confirm, drop, ...).
type Fake struct {
	mu sync.Mutex

	CollectConfirms  int
	ConfirmThreshold int
	OperatorAddress  string
	TankAddress      string
	UTXO             bool
	BrokerAvailable  bool

	deposits map[string][]DepositObservation // keyed by address
	confirms map[string]int                  // keyed by txid
	nonces   map[string]uint64               // keyed by address
	existing map[string]ExistingTransfer      // keyed by "from|to|asset|amount"
	sent     []SendResult
	stuck    map[string]bool
	receipts map[string]GasReceipt    // keyed by txid
	rates    map[string]decimal.D     // keyed by asset
	balances map[string]decimal.D     // keyed by "asset|address"
}

func NewFake() *Fake {
	return &Fake{
		CollectConfirms:  3,
		ConfirmThreshold: 3,
		OperatorAddress:  "0xOPERATOR",
		deposits:         make(map[string][]DepositObservation),
		confirms:         make(map[string]int),
		nonces:           make(map[string]uint64),
		existing:         make(map[string]ExistingTransfer),
		stuck:            make(map[string]bool),
		receipts:         make(map[string]GasReceipt),
		rates:            make(map[string]decimal.D),
		balances:         make(map[string]decimal.D),
	}
}

// SetGasReceipt seeds the receipt GetGasReceipt returns for txid.
func (f *Fake) SetGasReceipt(txid string, r GasReceipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[txid] = r
}

// SetUSDRate seeds the rate GetUSDRate returns for asset.
func (f *Fake) SetUSDRate(asset string, rate decimal.D) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates[asset] = rate
}

// SetBalance seeds the balance GetBalance returns for asset/address.
func (f *Fake) SetBalance(asset, address string, amount decimal.D) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[asset+"|"+address] = amount
}

// Fund registers a deposit observation for address, for the next
// ListConfirmedDeposits call to return.
func (f *Fake) Fund(address string, d DepositObservation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deposits[address] = append(f.deposits[address], d)
}

// SetConfirms sets the confirmation count GetTxConfirmations will
// report for txid. Use -1 to simulate a dropped/reorged transaction.
func (f *Fake) SetConfirms(txid string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms[txid] = n
}

func (f *Fake) MarkStuck(txid string, stuck bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stuck[txid] = stuck
}

func (f *Fake) ListConfirmedDeposits(ctx context.Context, asset, address string, minConfirms int) (DepositListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []DepositObservation
	total := decimal.Zero
	for _, d := range f.deposits[address] {
		if d.Asset != asset || d.Confirms < minConfirms {
			continue
		}
		out = append(out, d)
		total = decimal.Add(total, d.Amount)
	}
	return DepositListing{Deposits: out, TotalConfirmed: total}, nil
}

func (f *Fake) Send(ctx context.Context, asset string, from EscrowWithKey, to string, amount decimal.D, opts SendOptions) (SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nonce := f.nonces[from.Address]
	if opts.Nonce != nil {
		nonce = *opts.Nonce
	}
	txid := fmt.Sprintf("tx-%s-%s-%d", from.Address, to, nonce)
	f.nonces[from.Address] = nonce + 1
	res := SendResult{Txid: txid, NonceOrInputs: fmt.Sprintf("%d", nonce), GasPrice: decimal.MustParse("1")}
	f.sent = append(f.sent, res)
	f.confirms[txid] = 0
	return res, nil
}

func (f *Fake) GetTxConfirmations(ctx context.Context, txid string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.confirms[txid]
	if !ok {
		return -1, nil
	}
	return c, nil
}

func (f *Fake) GetConfirmationThreshold() int { return f.ConfirmThreshold }
func (f *Fake) GetCollectConfirms() int       { return f.CollectConfirms }
func (f *Fake) GetOperatorAddress() string    { return f.OperatorAddress }
func (f *Fake) GetManagedAddress(ref EscrowWithKey) (string, error) {
	return ref.Address, nil
}
func (f *Fake) GetTankAddress() string { return f.TankAddress }

func (f *Fake) GetCurrentNonce(ctx context.Context, address string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[address], nil
}

func (f *Fake) GetCurrentGasPrice(ctx context.Context) (FeeData, error) {
	return FeeData{GasPrice: decimal.MustParse("1")}, nil
}

func (f *Fake) IsTransactionStuck(ctx context.Context, txid string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stuck[txid], nil
}

func (f *Fake) CheckExistingTransfer(ctx context.Context, from EscrowWithKey, to, asset string, amount decimal.D) (*ExistingTransfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%s|%s|%s|%s", from.Address, to, asset, amount.String())
	if et, ok := f.existing[key]; ok {
		return &et, nil
	}
	return nil, nil
}

// RecordExisting pre-seeds an idempotency hit, simulating a transfer
// that crashed mid-submission but already landed on-chain (§4.5.d.iii,
// §8 round-trip law).
func (f *Fake) RecordExisting(from EscrowWithKey, to, asset string, amount decimal.D, et ExistingTransfer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%s|%s|%s|%s", from.Address, to, asset, amount.String())
	f.existing[key] = et
}

func (f *Fake) IsBrokerAvailable() bool { return f.BrokerAvailable }

func (f *Fake) SwapViaBroker(ctx context.Context, params BrokerParams) (SendResult, error) {
	return f.brokerCall(params)
}

func (f *Fake) RevertViaBroker(ctx context.Context, params BrokerParams) (SendResult, error) {
	return f.brokerCall(params)
}

func (f *Fake) RefundViaBroker(ctx context.Context, params BrokerParams) (SendResult, error) {
	return f.brokerCall(params)
}

func (f *Fake) brokerCall(params BrokerParams) (SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	txid := fmt.Sprintf("broker-tx-%s-%s", params.From.Address, params.Recipient)
	f.confirms[txid] = 0
	res := SendResult{Txid: txid, NonceOrInputs: "broker"}
	f.sent = append(f.sent, res)
	return res, nil
}

func (f *Fake) IsUTXO() bool { return f.UTXO }

func (f *Fake) GetGasReceipt(ctx context.Context, txid string) (GasReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[txid]
	if !ok {
		return GasReceipt{}, fmt.Errorf("chainadapter: no gas receipt seeded for %s", txid)
	}
	return r, nil
}

func (f *Fake) GetUSDRate(ctx context.Context, asset string) (decimal.D, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rates[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("chainadapter: no USD rate seeded for %s", asset)
	}
	return r, nil
}

func (f *Fake) GetBalance(ctx context.Context, asset, address string) (decimal.D, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[asset+"|"+address], nil
}

var _ Adapter = (*Fake)(nil)
