// Package gasreimbursement implements the §4.8 gas-reimbursement
// calculator: given the just-confirmed SWAP_PAYOUT transaction of a
// deal, it converts the observed gas receipt into an owed amount of
// the chain's designated reimbursement token and attaches a queued
// GAS_REIMBURSEMENT item, escrow to tank. It satisfies
// confirmmonitor.GasReimbursementTrigger and is invoked at most once
// per deal; the deal's gas_reimbursement.status field is the
// idempotency guard.
package gasreimbursement

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/klaytn-labs/otc-broker-engine/assets"
	"github.com/klaytn-labs/otc-broker-engine/chainadapter"
	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/decimal"
	"github.com/klaytn-labs/otc-broker-engine/internal/logutil"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

// Clock matches stagemachine.Clock, queueproc.Clock and
// confirmmonitor.Clock.
type Clock func() time.Time

// Config is the per-chain reimbursement policy, sourced from
// engineconfig at startup.
type Config struct {
	// Enabled gates the whole feature; when false every deal is
	// skipped with reason "reimbursement disabled".
	Enabled bool
	// ReimbursementAsset maps a chain id to the canonical asset code
	// the tank wallet is owed back in (typically a stablecoin already
	// present in the escrow, not the chain's native gas token).
	ReimbursementAsset map[string]string
}

// Calculator is the concrete gasreimbursement.Calculator the engine
// wires into confirmmonitor.Monitor as its GasReimbursementTrigger.
type Calculator struct {
	store    repository.Store
	adapters *chainadapter.Registry
	registry *assets.Registry
	cfg      Config
	clock    Clock
	logger   *zap.SugaredLogger
}

func New(store repository.Store, adapters *chainadapter.Registry, registry *assets.Registry, cfg Config, clock Clock) *Calculator {
	if clock == nil {
		clock = time.Now
	}
	return &Calculator{
		store:    store,
		adapters: adapters,
		registry: registry,
		cfg:      cfg,
		clock:    clock,
		logger:   logutil.NewModuleLogger(logutil.ModuleGasReimbursement),
	}
}

// OnFirstConfirmation implements confirmmonitor.GasReimbursementTrigger.
func (c *Calculator) OnFirstConfirmation(ctx context.Context, dealID string, item *queueitem.QueueItem) error {
	d, err := c.store.Deals().Get(ctx, nil, dealID)
	if err != nil {
		return err
	}

	// Runs at most once per deal (§4.8): any non-empty status, including
	// PENDING_CALCULATION left by an earlier attempt that failed part-way,
	// means it is not run again.
	if d.GasReimbursement.Status != deal.GasReimbursementNone {
		return nil
	}

	if !c.cfg.Enabled {
		return c.skip(ctx, d, "reimbursement disabled")
	}

	adapter, ok := c.adapters.Get(item.ChainID)
	if !ok {
		return fmt.Errorf("gasreimbursement: no adapter registered for chain %s", item.ChainID)
	}

	tankAddress := adapter.GetTankAddress()
	if tankAddress == "" {
		return c.skip(ctx, d, "tank address unavailable")
	}

	tokenAsset, ok := c.cfg.ReimbursementAsset[item.ChainID]
	if !ok || tokenAsset == "" {
		return c.skip(ctx, d, "no reimbursement asset configured for chain")
	}

	d.GasReimbursement.Status = deal.GasReimbursementPendingCalc
	if err := c.store.Deals().Update(ctx, nil, d); err != nil {
		return err
	}

	calc, err := c.calculate(ctx, item, adapter, tokenAsset)
	if err != nil {
		return err
	}

	tokenDecimals, err := c.registry.Decimals(tokenAsset)
	if err != nil {
		return err
	}
	if !decimal.IsPositive(calc.TokenAmount) {
		return c.skip(ctx, d, "calculated reimbursement amount is not positive")
	}

	escrowBalance, err := adapter.GetBalance(ctx, tokenAsset, item.From.Address)
	if err != nil {
		return err
	}
	if !decimal.GTE(escrowBalance, calc.TokenAmount) {
		return c.skip(ctx, d, "insufficient escrow balance of reimbursement token")
	}

	d.GasReimbursement.Calculation = calc
	d.GasReimbursement.Status = deal.GasReimbursementCalculated
	d.Info(deal.EventGasReimbursement, fmt.Sprintf("gas reimbursement calculated: %s %s owed to tank", decimal.String(decimal.Floor(calc.TokenAmount, tokenDecimals)), tokenAsset))

	reimbursementItem := &queueitem.QueueItem{
		DealID:  d.DealID,
		ChainID: item.ChainID,
		From:    item.From,
		To:      tankAddress,
		Asset:   tokenAsset,
		Amount:  decimal.Floor(calc.TokenAmount, tokenDecimals),
		Purpose: queueitem.PurposeGasReimbursement,
		Status:  queueitem.StatusPending,
	}
	if err := c.store.Queue().Enqueue(ctx, nil, reimbursementItem); err != nil {
		return err
	}

	d.GasReimbursement.QueueItemID = reimbursementItem.QueueID
	d.GasReimbursement.Status = deal.GasReimbursementQueued
	d.Info(deal.EventGasReimbursement, "gas reimbursement item "+reimbursementItem.QueueID+" queued")
	return c.store.Deals().Update(ctx, nil, d)
}

// calculate converts the SWAP_PAYOUT item's gas receipt into a
// denominated owed amount of tokenAsset (§4.8).
func (c *Calculator) calculate(ctx context.Context, item *queueitem.QueueItem, adapter chainadapter.Adapter, tokenAsset string) (*deal.GasReimbursementCalculation, error) {
	txid := ""
	if item.SubmittedTx != nil {
		txid = item.SubmittedTx.Txid
	}
	receipt, err := adapter.GetGasReceipt(ctx, txid)
	if err != nil {
		return nil, err
	}

	chainParams, err := c.registry.Chain(item.ChainID)
	if err != nil {
		return nil, err
	}
	nativeDecimals, err := c.registry.Decimals(chainParams.NativeAsset)
	if err != nil {
		return nil, err
	}

	gasUsed := decimal.MustParse(strconv.FormatUint(receipt.GasUsed, 10))
	nativeCostWei := receipt.GasPrice.Mul(gasUsed)
	nativeCostNative := nativeCostWei.Shift(-nativeDecimals)

	nativeUSDRate, err := adapter.GetUSDRate(ctx, chainParams.NativeAsset)
	if err != nil {
		return nil, err
	}
	nativeUSDValue := decimal.Floor(nativeCostNative.Mul(nativeUSDRate), 2)

	tokenUSDRate, err := adapter.GetUSDRate(ctx, tokenAsset)
	if err != nil {
		return nil, err
	}

	var tokenAmount decimal.D
	if decimal.IsPositive(tokenUSDRate) {
		tokenAmount = nativeUSDValue.Div(tokenUSDRate)
	}

	return &deal.GasReimbursementCalculation{
		ActualGasUsed:     receipt.GasUsed,
		GasPrice:          receipt.GasPrice,
		EstimatedTotalGas: receipt.GasUsed,
		NativeCostWei:     nativeCostWei,
		NativeUSDValue:    nativeUSDValue,
		NativeUSDRate:     nativeUSDRate,
		TokenUSDRate:      tokenUSDRate,
		TokenAmount:       tokenAmount,
		CalculatedAt:      c.clock(),
	}, nil
}

func (c *Calculator) skip(ctx context.Context, d *deal.Deal, reason string) error {
	d.GasReimbursement.Status = deal.GasReimbursementSkipped
	d.GasReimbursement.SkippedReason = reason
	d.Info(deal.EventGasReimbursement, "gas reimbursement skipped: "+reason)
	return c.store.Deals().Update(ctx, nil, d)
}
