// Package alert is the supplemented alert sink SPEC_FULL.md adds for
// the "record an alert" side effects named in spec.md §4.5.d.v and §7
// (nonce collisions, exhausted gas bumps). It fans out to the
// repository's AlertRepo for operator visibility and to the module
// logger at Error level, mirroring the teacher's logger.Crit
// escalation for conditions that need a human.
package alert

import (
	"context"

	"go.uber.org/zap"

	"github.com/klaytn-labs/otc-broker-engine/internal/logutil"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

type Sink struct {
	store  repository.Store
	logger *zap.SugaredLogger
}

func NewSink(store repository.Store) *Sink {
	return &Sink{store: store, logger: logutil.NewModuleLogger(logutil.ModuleEngine)}
}

// Raise records dealID/kind/message both to the repository and to the
// log, and never returns an error: an alert that itself fails to
// persist must not stall the caller, it only gets logged louder.
func (s *Sink) Raise(ctx context.Context, tx repository.Tx, dealID, kind, message string) {
	s.logger.Errorw("alert raised", "deal_id", dealID, "kind", kind, "message", message)
	if err := s.store.Alerts().Record(ctx, tx, dealID, kind, message); err != nil {
		s.logger.Errorw("failed to persist alert", "deal_id", dealID, "kind", kind, "err", err)
	}
}
