package memrepo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

type payoutRepo Store

func (r *payoutRepo) s() *Store { return (*Store)(r) }

func (r *payoutRepo) Create(ctx context.Context, tx repository.Tx, p *queueitem.Payout) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.PayoutID == "" {
		p.PayoutID = uuid.NewString()
	}
	s.payouts[p.PayoutID] = p
	return nil
}

func (r *payoutRepo) Get(ctx context.Context, tx repository.Tx, payoutID string) (*queueitem.Payout, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payouts[payoutID]
	if !ok {
		return nil, fmt.Errorf("memrepo: payout %s not found", payoutID)
	}
	return p, nil
}

func (r *payoutRepo) UpdateStatus(ctx context.Context, tx repository.Tx, payoutID string, status queueitem.TxRefStatus, minConfirms int) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[payoutID]
	if !ok {
		return fmt.Errorf("memrepo: payout %s not found", payoutID)
	}
	p.Status = status
	p.MinConfirms = minConfirms
	return nil
}

type gasFundingRepo Store

func (r *gasFundingRepo) s() *Store { return (*Store)(r) }

func (r *gasFundingRepo) Record(ctx context.Context, tx repository.Tx, g *queueitem.GasFunding) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gasFundings[g.DealID+"|"+g.ChainID+"|"+g.EscrowAddress] = g
	return nil
}

func (r *gasFundingRepo) Get(ctx context.Context, tx repository.Tx, dealID, chainID, escrowAddress string) (*queueitem.GasFunding, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.gasFundings[dealID+"|"+chainID+"|"+escrowAddress]
	if !ok {
		return nil, nil
	}
	return g, nil
}

type alertRepo Store

func (r *alertRepo) Record(ctx context.Context, tx repository.Tx, dealID, kind, message string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alertRecord{DealID: dealID, Kind: kind, Message: message})
	return nil
}
