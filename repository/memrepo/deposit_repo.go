package memrepo

import (
	"context"
	"fmt"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

type depositRepo Store

func (r *depositRepo) Upsert(ctx context.Context, tx repository.Tx, dealID string, d deal.EscrowDeposit, chainID, escrowAddress string, synthetic bool) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	dl, ok := s.deals[dealID]
	if !ok {
		return fmt.Errorf("memrepo: deal %s not found", dealID)
	}
	d.Synthetic = synthetic
	var side *deal.SideState
	switch escrowAddress {
	case dl.EscrowA.Address:
		side = &dl.SideA
	case dl.EscrowB.Address:
		side = &dl.SideB
	default:
		return fmt.Errorf("memrepo: escrow address %s does not belong to deal %s", escrowAddress, dealID)
	}
	side.MergeDeposit(d)
	return nil
}
