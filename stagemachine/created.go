package stagemachine

import (
	"context"
	"time"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

// handleCreated implements the CREATED stage (§4.3): the deal sits here
// until both parties have supplied their payback/recipient details, at
// which point it moves to COLLECTION and its expiry clock starts.
func (m *Machine) handleCreated(ctx context.Context, tx repository.Tx, d *deal.Deal, now time.Time) error {
	if err := m.refreshSide(ctx, tx, d, d.EscrowA, d.AliceSpec.Asset, &d.SideA); err != nil {
		return err
	}
	if err := m.refreshSide(ctx, tx, d, d.EscrowB, d.BobSpec.Asset, &d.SideB); err != nil {
		return err
	}
	if !d.BothDetailsPresent() {
		return nil
	}
	d.ExpiresAt = now.Add(time.Duration(d.TimeoutSeconds) * time.Second)
	return m.transition(ctx, tx, d, deal.StageCollection, now)
}
