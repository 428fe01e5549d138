package queueproc

import (
	"context"
	"fmt"
	"time"

	"github.com/klaytn-labs/otc-broker-engine/chainadapter"
	"github.com/klaytn-labs/otc-broker-engine/internal/metrics"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

// submitAccountItem implements the nonce reservation sub-algorithm of
// §4.5.d for non-broker, account-based chains. Reservation failures are
// signalled by return-value mismatch (§4.6), never by error from the
// repository itself. An error whose message mentions a nonce (sequence
// invalid, reservation mismatch, collision) makes RunOnce stop
// processing this sender for the rest of the pass; any other error only
// fails this item.
//
// Reservation and the eventual submission record share a single
// transaction at serializable isolation (§4.6, §5): the FOR UPDATE lock
// sqlrepo's AccountRepo takes on (chainID, address) only serializes
// concurrent reservations when it is held inside an open transaction,
// so the whole reserve/send/persist sequence runs under one tx opened
// here, the same shape as stagemachine.Machine.Advance.
func (p *Processor) submitAccountItem(ctx context.Context, item *queueitem.QueueItem, adapter chainadapter.Adapter) error {
	chainID, address := item.ChainID, item.From.Address

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	commit := func(err error) error {
		if cerr := tx.Commit(); cerr != nil {
			return cerr
		}
		committed = true
		return err
	}

	if err := p.store.Queue().ValidateNonceSequence(ctx, tx, chainID, address); err != nil {
		if resetErr := p.store.Accounts().ResetNonce(ctx, tx, chainID, address); resetErr != nil {
			p.logger.Errorw("failed to reset nonce state after sequence violation", "chain_id", chainID, "address", address, "err", resetErr)
		}
		metrics.NonceResets.Inc(1)
		return commit(fmt.Errorf("nonce sequence invalid for %s/%s: %w", chainID, address, err))
	}

	// Idempotency check (§4.5.d.iv): a crash between submit and persist
	// must never resubmit a transfer that already landed on chain.
	if item.Purpose == queueitem.PurposeSwapPayout || item.Purpose == queueitem.PurposeOpCommission {
		existing, err := adapter.CheckExistingTransfer(ctx, toAdapterEndpoint(item.From), item.To, item.Asset, item.Amount)
		if err != nil {
			return err
		}
		if existing != nil {
			res := chainadapter.SendResult{Txid: existing.Txid, SubmittedAt: p.clock().Unix()}
			if err := p.persistSubmission(ctx, tx, item, res, adapter); err != nil {
				return err
			}
			return commit(nil)
		}
	}

	expected, err := p.expectedNonce(ctx, tx, chainID, address, adapter)
	if err != nil {
		return err
	}

	var reserved uint64
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		reserved, err = p.store.Accounts().ReserveNextNonce(ctx, tx, chainID, address, &expected)
		if err != nil {
			return err
		}
		if reserved == expected {
			break
		}
		if attempt == maxAttempts {
			if resetErr := p.store.Accounts().ResetNonce(ctx, tx, chainID, address); resetErr != nil {
				p.logger.Errorw("failed to reset nonce state after reservation retries exhausted", "chain_id", chainID, "address", address, "err", resetErr)
			}
			metrics.NonceResets.Inc(1)
			return commit(fmt.Errorf("nonce reservation mismatch for %s/%s after %d attempts: got %d want %d", chainID, address, maxAttempts, reserved, expected))
		}
		p.sleep(backoff(attempt))
		expected, err = p.expectedNonce(ctx, tx, chainID, address, adapter)
		if err != nil {
			return err
		}
	}

	nonce := reserved
	res, err := adapter.Send(ctx, item.Asset, toAdapterEndpoint(item.From), item.To, item.Amount, chainadapter.SendOptions{Nonce: &nonce})
	if err != nil {
		return err
	}

	// Collision guard (§4.5.d.v): another process may have raced this
	// same nonce onto the same sender. Detect it post-submit and, if
	// found, reset nonce state and alert rather than leaving two
	// candidate transactions in flight.
	conflict, err := p.store.Queue().FindNonceConflict(ctx, tx, chainID, address, res.NonceOrInputs, item.QueueID)
	if err != nil {
		return err
	}
	if conflict != nil {
		if resetErr := p.store.Accounts().ResetNonce(ctx, tx, chainID, address); resetErr != nil {
			p.logger.Errorw("failed to reset nonce state after collision", "chain_id", chainID, "address", address, "err", resetErr)
		}
		metrics.NonceConflicts.Inc(1)
		p.alerts.Raise(ctx, tx, item.DealID, "nonce_collision", fmt.Sprintf("queue item %s and %s both claimed nonce %s on %s/%s", item.QueueID, conflict.QueueID, res.NonceOrInputs, chainID, address))
		return commit(fmt.Errorf("nonce collision detected for %s/%s", chainID, address))
	}

	originalNonce := nonce
	item.OriginalNonce = &originalNonce
	metrics.QueueSubmitted.Inc(1)
	if err := p.persistSubmission(ctx, tx, item, res, adapter); err != nil {
		return err
	}
	return commit(nil)
}

// expectedNonce computes max(highest_queued_nonce+1, next_nonce), per
// §4.5.d.iii, bootstrapping an unseen (chain, address) pair from the
// chain's current nonce the first time it is ever observed.
func (p *Processor) expectedNonce(ctx context.Context, tx repository.Tx, chainID, address string, adapter chainadapter.Adapter) (uint64, error) {
	state, err := p.store.Accounts().GetNextNonce(ctx, tx, chainID, address)
	if err != nil {
		return 0, err
	}

	var next uint64
	if state == nil {
		current, err := adapter.GetCurrentNonce(ctx, address)
		if err != nil {
			return 0, err
		}
		next = current
	} else {
		next = state.NextNonce
	}

	highest, err := p.store.Queue().GetHighestQueuedNonce(ctx, tx, chainID, address)
	if err != nil {
		return 0, err
	}
	if highest != nil && *highest+1 > next {
		next = *highest + 1
	}
	return next, nil
}

// backoff implements §4.5.d.iii's retry schedule for the 1-based
// attempt number: 100ms * 5^(attempt-1), i.e. 100ms after the first
// failed attempt and 500ms after the second, with 3 attempts in total.
func backoff(attempt int) time.Duration {
	d := 100 * time.Millisecond
	for i := 1; i < attempt; i++ {
		d *= 5
	}
	return d
}

func toAdapterEndpoint(e queueitem.Endpoint) chainadapter.EscrowWithKey {
	return chainadapter.EscrowWithKey{Address: e.Address, KeyHandle: e.KeyHandle}
}
