package sqlrepo

import (
	"context"
	"fmt"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

type depositRepo struct {
	store *Store
}

// Upsert loads the deal's row, merges d into whichever side owns
// escrowAddress, and writes the row back. Mirrors memrepo's
// side-selection logic exactly, just against a decoded row instead of
// an in-memory pointer.
func (r *depositRepo) Upsert(ctx context.Context, tx repository.Tx, dealID string, d deal.EscrowDeposit, chainID, escrowAddress string, synthetic bool) error {
	conn := r.store.conn(tx)
	dr := &dealRepo{store: r.store}
	row, err := dr.getRow(conn, dealID)
	if err != nil {
		return err
	}
	dl, err := decodeDeal(row)
	if err != nil {
		return err
	}

	d.Synthetic = synthetic
	var side *deal.SideState
	switch escrowAddress {
	case dl.EscrowA.Address:
		side = &dl.SideA
	case dl.EscrowB.Address:
		side = &dl.SideB
	default:
		return fmt.Errorf("sqlrepo: escrow address %s does not belong to deal %s", escrowAddress, dealID)
	}
	side.MergeDeposit(d)

	encoded, err := encodeDeal(dl)
	if err != nil {
		return err
	}
	return conn.Save(encoded).Error
}

var _ repository.DepositRepo = (*depositRepo)(nil)
