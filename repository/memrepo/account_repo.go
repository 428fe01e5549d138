package memrepo

import (
	"context"

	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

type accountRepo Store

func (r *accountRepo) s() *Store { return (*Store)(r) }

func key(chainID, address string) string { return chainID + "|" + address }

// ReserveNextNonce is the one method in this whole package where the
// atomicity the spec demands (§4.6) actually matters: it must read and
// bump the counter under the same lock acquisition the rest of the
// store serializes through, which it does here by virtue of the
// store-wide mutex.
func (r *accountRepo) ReserveNextNonce(ctx context.Context, tx repository.Tx, chainID, address string, initialNonce *uint64) (uint64, error) {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(chainID, address)
	st, ok := s.nonces[k]
	if !ok {
		seed := uint64(0)
		if initialNonce != nil {
			seed = *initialNonce
		}
		st = &queueitem.AccountNonceState{ChainID: chainID, Address: address, NextNonce: seed}
		s.nonces[k] = st
	}
	reserved := st.NextNonce
	st.NextNonce++
	return reserved, nil
}

func (r *accountRepo) GetNextNonce(ctx context.Context, tx repository.Tx, chainID, address string) (*queueitem.AccountNonceState, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.nonces[key(chainID, address)]
	if !ok {
		return nil, nil
	}
	copy := *st
	return &copy, nil
}

func (r *accountRepo) ResetNonce(ctx context.Context, tx repository.Tx, chainID, address string) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nonces, key(chainID, address))
	return nil
}

func (r *accountRepo) UpdateLastConfirmedNonce(ctx context.Context, tx repository.Tx, chainID, address string, nonce uint64) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(chainID, address)
	st, ok := s.nonces[k]
	if !ok {
		st = &queueitem.AccountNonceState{ChainID: chainID, Address: address}
		s.nonces[k] = st
	}
	st.LastConfirmedNonce = nonce
	return nil
}
