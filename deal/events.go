package deal

import "time"

// EventLevel classifies an event's severity, giving the append-only
// message log of §3 a queryable taxonomy instead of bare strings.
type EventLevel string

const (
	EventInfo     EventLevel = "INFO"
	EventWarn     EventLevel = "WARN"
	EventCritical EventLevel = "CRITICAL"
)

// EventCode names the kind of thing that happened, for filtering and
// alerting without parsing Message text.
type EventCode string

const (
	EventStageTransition     EventCode = "STAGE_TRANSITION"
	EventDepositObserved     EventCode = "DEPOSIT_OBSERVED"
	EventLocksSet            EventCode = "LOCKS_SET"
	EventLocksCleared        EventCode = "LOCKS_CLEARED"
	EventTransferPlanBuilt   EventCode = "TRANSFER_PLAN_BUILT"
	EventRevertRefused       EventCode = "REVERT_REFUSED"
	EventQueueItemCompleted  EventCode = "QUEUE_ITEM_COMPLETED"
	EventTxDropped           EventCode = "TX_DROPPED"
	EventGasBumped           EventCode = "GAS_BUMPED"
	EventGasBumpExhausted    EventCode = "GAS_BUMP_EXHAUSTED"
	EventNonceAnomaly        EventCode = "NONCE_ANOMALY"
	EventAdapterError        EventCode = "ADAPTER_ERROR"
	EventGasReimbursement    EventCode = "GAS_REIMBURSEMENT"
	EventInvariantViolation  EventCode = "INVARIANT_VIOLATION"
)

// Event is one entry in a Deal's append-only log (§3).
type Event struct {
	At      time.Time
	Level   EventLevel
	Code    EventCode
	Message string
}

// AddEvent appends e to the deal's log. Callers should prefer the
// helper constructors below over building Event literals by hand so
// the level/code pairing stays consistent.
func (d *Deal) AddEvent(level EventLevel, code EventCode, message string) {
	d.Events = append(d.Events, Event{
		At:      time.Now(),
		Level:   level,
		Code:    code,
		Message: message,
	})
}

func (d *Deal) Info(code EventCode, message string) { d.AddEvent(EventInfo, code, message) }
func (d *Deal) Warn(code EventCode, message string) { d.AddEvent(EventWarn, code, message) }
func (d *Deal) Critical(code EventCode, message string) {
	d.AddEvent(EventCritical, code, message)
}
