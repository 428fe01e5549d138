package memrepo

import (
	"context"
	"fmt"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/invariants"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

type dealRepo Store

func (r *dealRepo) s() *Store { return (*Store)(r) }

func (r *dealRepo) GetActiveDeals(ctx context.Context, tx repository.Tx) ([]*deal.Deal, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*deal.Deal
	for _, d := range s.deals {
		if d.Stage != deal.StageClosed {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *dealRepo) GetDealsInStages(ctx context.Context, tx repository.Tx, stages ...deal.Stage) ([]*deal.Deal, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[deal.Stage]bool, len(stages))
	for _, st := range stages {
		want[st] = true
	}
	var out []*deal.Deal
	for _, d := range s.deals {
		if want[d.Stage] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *dealRepo) Get(ctx context.Context, tx repository.Tx, dealID string) (*deal.Deal, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deals[dealID]
	if !ok {
		return nil, fmt.Errorf("memrepo: deal %s not found", dealID)
	}
	return d, nil
}

func (r *dealRepo) Update(ctx context.Context, tx repository.Tx, d *deal.Deal) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deals[d.DealID] = d
	return nil
}

func (r *dealRepo) UpdateStage(ctx context.Context, tx repository.Tx, dealID string, newStage deal.Stage) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[dealID]
	if !ok {
		return fmt.Errorf("memrepo: deal %s not found", dealID)
	}
	if !invariants.ValidTransition(d.Stage, newStage) {
		return fmt.Errorf("memrepo: illegal transition %s -> %s for deal %s", d.Stage, newStage, dealID)
	}
	d.Stage = newStage
	return nil
}

func (r *dealRepo) AddEvent(ctx context.Context, tx repository.Tx, dealID string, e deal.Event) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[dealID]
	if !ok {
		return fmt.Errorf("memrepo: deal %s not found", dealID)
	}
	d.Events = append(d.Events, e)
	return nil
}
