// Package transferplan builds the ordered set of outgoing transactions
// for a swap or a revert (spec.md §4.4): the broker path (one atomic
// call per side) when a working broker contract is configured, and the
// fallback path (SWAP_PAYOUT, OP_COMMISSION, SURPLUS_REFUND, in that
// order) otherwise. GAS_REIMBURSEMENT is not planned here; the
// gas-reimbursement calculator enqueues it later.
package transferplan

import (
	"context"

	"go.uber.org/zap"

	"github.com/klaytn-labs/otc-broker-engine/chainadapter"
	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/decimal"
	"github.com/klaytn-labs/otc-broker-engine/internal/logutil"
	"github.com/klaytn-labs/otc-broker-engine/invariants"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
)

type Planner struct {
	adapters *chainadapter.Registry
	logger   *zap.SugaredLogger
}

func NewPlanner(adapters *chainadapter.Registry) *Planner {
	return &Planner{adapters: adapters, logger: logutil.NewModuleLogger(logutil.ModuleTransferPlanner)}
}

// sidePlanInput is the per-side data the planner needs, named plainly
// rather than threading the whole Deal through every helper.
type sidePlanInput struct {
	escrow        deal.EscrowRef
	counterRecipient string // the OTHER side's recipient address — this side pays the counter-party
	payback       string
	tradeAsset    string
	tradeAmount   decimal.D
	commission    deal.CommissionRequirement
	commissionAmt decimal.D
	collected     decimal.D // eligible collected amount of the trade asset, for surplus
	assetDecimals int32
}

// BuildSwapPlan constructs the transfer plan for both sides of d once
// both are fully locked (§4.3 WAITING->SWAP gate). It returns the
// queue items without persisting them; the caller enqueues them via
// repository.QueueRepo.Enqueue inside its own transaction.
func (p *Planner) BuildSwapPlan(ctx context.Context, d *deal.Deal, aliceDecimals, bobDecimals int32) ([]*queueitem.QueueItem, error) {
	var items []*queueitem.QueueItem

	aliceAdapter, _ := p.adapters.Get(d.AliceSpec.ChainID)
	bobAdapter, _ := p.adapters.Get(d.BobSpec.ChainID)

	aliceCommission := d.CommissionPlan.AliceCommission
	bobCommission := d.CommissionPlan.BobCommission

	aliceCommissionAmt := invariants.ComputeCommission(d.AliceSpec.Amount, aliceCommission, aliceDecimals)
	bobCommissionAmt := invariants.ComputeCommission(d.BobSpec.Amount, bobCommission, bobDecimals)

	aliceInput := sidePlanInput{
		escrow:           d.EscrowA,
		counterRecipient: d.BobDetails.RecipientAddress,
		payback:          d.AliceDetails.PaybackAddress,
		tradeAsset:       d.AliceSpec.Asset,
		tradeAmount:      d.AliceSpec.Amount,
		commission:       aliceCommission,
		commissionAmt:    aliceCommissionAmt,
		collected:        d.SideA.CollectedByAsset[d.AliceSpec.Asset],
		assetDecimals:    aliceDecimals,
	}
	bobInput := sidePlanInput{
		escrow:           d.EscrowB,
		counterRecipient: d.AliceDetails.RecipientAddress,
		payback:          d.BobDetails.PaybackAddress,
		tradeAsset:       d.BobSpec.Asset,
		tradeAmount:      d.BobSpec.Amount,
		commission:       bobCommission,
		commissionAmt:    bobCommissionAmt,
		collected:        d.SideB.CollectedByAsset[d.BobSpec.Asset],
		assetDecimals:    bobDecimals,
	}

	aliceItems := p.planSide(d, aliceAdapter, aliceInput)
	bobItems := p.planSide(d, bobAdapter, bobInput)

	items = append(items, aliceItems...)
	items = append(items, bobItems...)

	d.Info(deal.EventTransferPlanBuilt, "built swap transfer plan")
	return items, nil
}

func (p *Planner) planSide(d *deal.Deal, adapter chainadapter.Adapter, in sidePlanInput) []*queueitem.QueueItem {
	isUTXO := adapter != nil && adapter.IsUTXO()
	fromEndpoint := queueitem.Endpoint{ChainID: in.escrow.ChainID, Address: in.escrow.Address, KeyHandle: in.escrow.KeyHandle}

	if adapter != nil && adapter.IsBrokerAvailable() {
		// The broker contract computes and disburses the surplus
		// internally as part of its one atomic call; the core only
		// needs to pass it the trade amount and fee.
		return []*queueitem.QueueItem{{
			DealID:       d.DealID,
			ChainID:      in.escrow.ChainID,
			From:         fromEndpoint,
			To:           in.counterRecipient,
			Asset:        in.tradeAsset,
			Amount:       in.tradeAmount,
			Purpose:      queueitem.PurposeBrokerSwap,
			Status:       queueitem.StatusPending,
			Payback:      in.payback,
			Recipient:    in.counterRecipient,
			FeeRecipient: adapterOperator(adapter),
			Fees:         in.commissionAmt,
		}}
	}

	var items []*queueitem.QueueItem

	if decimal.IsPositive(in.tradeAmount) {
		items = append(items, &queueitem.QueueItem{
			DealID:  d.DealID,
			ChainID: in.escrow.ChainID,
			From:    fromEndpoint,
			To:      in.counterRecipient,
			Asset:   in.tradeAsset,
			Amount:  in.tradeAmount,
			Purpose: queueitem.PurposeSwapPayout,
			Phase:   phaseOrNone(isUTXO, queueitem.Phase1Swap),
			Status:  queueitem.StatusPending,
		})
	}

	if decimal.IsPositive(in.commissionAmt) {
		items = append(items, &queueitem.QueueItem{
			DealID:  d.DealID,
			ChainID: in.escrow.ChainID,
			From:    fromEndpoint,
			To:      adapterOperator(adapter),
			Asset:   in.commission.Asset,
			Amount:  in.commissionAmt,
			Purpose: queueitem.PurposeOpCommission,
			Phase:   phaseOrNone(isUTXO, queueitem.Phase2Commission),
			Status:  queueitem.StatusPending,
		})
	}

	// GAS_REIMBURSEMENT is attached later by the gas-reimbursement
	// calculator once a SWAP_PAYOUT first confirms (§4.8) — it cannot
	// be planned up front because it depends on the observed gas
	// receipt of that very payout.

	sameAsset := in.commission.Asset == in.tradeAsset
	surplus := invariants.CalculateSurplus(in.collected, in.tradeAmount, in.commissionAmt, sameAsset)
	if decimal.IsPositive(surplus) {
		items = append(items, &queueitem.QueueItem{
			DealID:  d.DealID,
			ChainID: in.escrow.ChainID,
			From:    fromEndpoint,
			To:      in.payback,
			Asset:   in.tradeAsset,
			Amount:  surplus,
			Purpose: queueitem.PurposeSurplusRefund,
			Phase:   phaseOrNone(isUTXO, queueitem.Phase3Refund),
			Status:  queueitem.StatusPending,
		})
	}

	return items
}

func phaseOrNone(isUTXO bool, phase queueitem.Phase) queueitem.Phase {
	if !isUTXO {
		return queueitem.PhaseNone
	}
	return phase
}

func adapterOperator(a chainadapter.Adapter) string {
	if a == nil {
		return ""
	}
	return a.GetOperatorAddress()
}
