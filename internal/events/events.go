// Package events broadcasts portfolio activity to interested consumers:
// connected WebSocket clients and, when configured, a Kafka topic.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event types.
const (
	TypeTradeExecuted     = "trade_executed"
	TypeSnapshotCommitted = "snapshot_committed"
)

// TradeExecuted is emitted after every journaled trade, including
// automatic stop-loss liquidations.
type TradeExecuted struct {
	Type      string `json:"type"`
	AccountID string `json:"account_id"`
	TradeID   string `json:"trade_id"`
	Ticker    string `json:"ticker"`
	Side      string `json:"side"`
	Shares    string `json:"shares"`
	Price     string `json:"price"`
	Reason    string `json:"reason,omitempty"`
}

// SnapshotCommitted is emitted after an end-of-day equity snapshot upsert.
type SnapshotCommitted struct {
	Type      string `json:"type"`
	AccountID string `json:"account_id"`
	Date      string `json:"date"`
	Equity    string `json:"equity"`
	Forced    bool   `json:"forced"`
}

// Emitter fans events out to the optional sinks. A nil Emitter or a nil
// sink is a no-op, so callers never guard emission.
type Emitter struct {
	hub      *Hub
	producer *KafkaProducer
}

// NewEmitter wires the available sinks; either may be nil.
func NewEmitter(hub *Hub, producer *KafkaProducer) *Emitter {
	return &Emitter{hub: hub, producer: producer}
}

// Emit broadcasts the event. Delivery is best-effort: failures are logged
// and never fail the operation that produced the event.
func (e *Emitter) Emit(ctx context.Context, key string, event any) {
	if e == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("event marshal failed", "err", err)
		return
	}
	if e.hub != nil {
		e.hub.Broadcast(data)
	}
	if e.producer != nil {
		if err := e.producer.Publish(ctx, key, data); err != nil {
			slog.Warn("kafka publish failed", "key", key, "err", err)
		}
	}
}
