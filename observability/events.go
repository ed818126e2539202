package observability

import (
	"tradeup/core/events"
	"tradeup/core/types"
	"tradeup/native/tradeup"
)

type eventPayload interface {
	Event() *types.Event
}

// MetricsEmitter satisfies the events.Emitter interface and mirrors escrow
// events into the prometheus registry, so counters stay accurate regardless of
// which surface (RPC or in-process) drove the engine.
type MetricsEmitter struct {
	next events.Emitter
}

// NewMetricsEmitter wraps an optional downstream emitter. Events are forwarded
// after the counters update; a nil downstream is allowed.
func NewMetricsEmitter(next events.Emitter) *MetricsEmitter {
	return &MetricsEmitter{next: next}
}

// Emit implements the events.Emitter interface.
func (m *MetricsEmitter) Emit(evt events.Event) {
	if m != nil {
		record(evt)
		if m.next != nil {
			m.next.Emit(evt)
		}
	}
}

func record(evt events.Event) {
	if evt == nil {
		return
	}
	switch evt.EventType() {
	case tradeup.EventTypeDeposited:
		Escrow().DepositsAccepted.Inc()
	case tradeup.EventTypeMinted:
		Escrow().Mints.Inc()
	case tradeup.EventTypeRedeemed:
		mode := "unknown"
		if payload, ok := evt.(eventPayload); ok {
			if e := payload.Event(); e != nil {
				if v, found := e.Attributes["mode"]; found {
					mode = v
				}
			}
		}
		Escrow().Redemptions.WithLabelValues(mode).Inc()
	}
}
