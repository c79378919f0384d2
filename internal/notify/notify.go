// Package notify carries "records changed" notifications from the point of
// mutation to whoever wants to refresh: till screens in-process, and other
// services over AMQP. Notifications are published only after a commit and
// are never a source of truth; a subscriber that misses one re-reads state.
package notify

import (
	"context"
	"errors"
	"time"
)

// Type names what changed.
type Type string

const (
	TableChanged       Type = "table.changed"
	SettlementRecorded Type = "settlement.recorded"
	OrderCancelled     Type = "order.cancelled"
	ShiftChanged       Type = "shift.changed"
	SyncApplied        Type = "sync.applied"
)

// Event is a change notification.
type Event struct {
	Type      Type      `json:"type"`
	TenantID  string    `json:"tenantId,omitempty"`
	TillID    string    `json:"tillId,omitempty"`
	RecordIDs []string  `json:"recordIds"`
	At        time.Time `json:"at"`
}

// Publisher delivers events. Implementations must not block on slow
// consumers for longer than ctx allows.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Multi fans an event out to several publishers, returning every failure.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }
