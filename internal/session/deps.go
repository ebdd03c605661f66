package session

import (
	"context"

	"github.com/zapgate/gateway-server-go/internal/model"
)

// Ledger debits provisioning costs from an owner's balance. Debit returns an
// INSUFFICIENT_BALANCE error when the owner cannot afford the amount; Credit
// refunds a debit after a provisioning failure.
type Ledger interface {
	Debit(ctx context.Context, ownerID string, amount int64) error
	Credit(ctx context.Context, ownerID string, amount int64) error
}

// EventSink is the append-only durability hook invoked from the reconciler.
// Failures are logged, never propagated; the in-memory buffers remain the
// source for read APIs.
type EventSink interface {
	ArchiveMessages(ctx context.Context, sessionID string, msgs []model.Message) error
	ArchiveContacts(ctx context.Context, sessionID string, contacts []model.Contact) error
}

// Notifier broadcasts session lifecycle events to the owner's subscribers.
type Notifier interface {
	Publish(ownerID string, kind string, data any)
}
