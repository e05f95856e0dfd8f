package store

import (
	"context"
	"errors"
	"time"

	"storeops/pkg/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("pending action is not pending")
)

// MessageLog persists one entry per inbound message id.
type MessageLog interface {
	GetMessage(ctx context.Context, messageID string) (domain.MessageLogEntry, bool, error)
	// LogMessage inserts entry unless one already exists for its message id.
	LogMessage(ctx context.Context, entry domain.MessageLogEntry) (bool, error)
	UpdateMessage(ctx context.Context, messageID string, patch domain.MessageLogPatch) error
}

// PendingActions persists proposed records and the per-sender current-pending pointer.
type PendingActions interface {
	// CreatePendingAction is idempotent on SourceMessageID. A new action becomes
	// the sender's current pending action.
	CreatePendingAction(ctx context.Context, action domain.PendingAction) (domain.PendingAction, bool, error)
	GetPendingAction(ctx context.Context, actionID string) (domain.PendingAction, bool, error)
	// LatestPendingAction returns the sender's current action if it is still
	// PENDING and not past its expiry at now.
	LatestPendingAction(ctx context.Context, senderID string, now time.Time) (domain.PendingAction, bool, error)
	UpdatePendingFields(ctx context.Context, actionID string, fields domain.Fields) (domain.PendingAction, error)
	TransitionPendingAction(ctx context.Context, actionID string, to domain.PendingStatus) (domain.PendingAction, error)
	// ExpirePendingActions marks PENDING actions past their expiry as EXPIRED.
	ExpirePendingActions(ctx context.Context, now time.Time) (int, error)
	ListActionsByStore(ctx context.Context, storeID string, status domain.PendingStatus, from, to time.Time) ([]domain.PendingAction, error)
}

// Directory maps senders to stores.
type Directory interface {
	GetBinding(ctx context.Context, senderID string) (domain.StoreBinding, bool, error)
	SaveBinding(ctx context.Context, binding domain.StoreBinding) error
}

// Registry holds the known stores.
type Registry interface {
	GetStore(ctx context.Context, storeID string) (domain.Store, bool, error)
	SaveStore(ctx context.Context, store domain.Store) error
}

// Store is the full persistence surface of the inbound service.
type Store interface {
	MessageLog
	PendingActions
	Directory
	Registry
}

func newPendingAction(action domain.PendingAction, id string, now time.Time) domain.PendingAction {
	if action.ID == "" {
		action.ID = id
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = now
	}
	action.CreatedAt = action.CreatedAt.UTC()
	action.ExpiresAt = action.CreatedAt.Add(domain.PendingTTL)
	action.UpdatedAt = action.CreatedAt
	action.Status = domain.PendingStatusPending
	if action.Fields == nil {
		action.Fields = domain.EmptyFields(action.Category)
	}
	action.Fields = domain.NormalizeFields(action.Category, action.Fields)
	return action
}

func validTransition(from, to domain.PendingStatus) bool {
	return from == domain.PendingStatusPending && to.Terminal()
}
