package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"storeops/pkg/domain"
)

// MemoryStore keeps everything in-process. Used by tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]domain.MessageLogEntry
	actions  map[string]domain.PendingAction
	bySource map[string]string // source message id -> action id
	pointers map[string]string // sender id -> action id
	bindings map[string]domain.StoreBinding
	stores   map[string]domain.Store
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]domain.MessageLogEntry),
		actions:  make(map[string]domain.PendingAction),
		bySource: make(map[string]string),
		pointers: make(map[string]string),
		bindings: make(map[string]domain.StoreBinding),
		stores:   make(map[string]domain.Store),
	}
}

func (m *MemoryStore) GetMessage(_ context.Context, messageID string) (domain.MessageLogEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.messages[messageID]
	if !ok {
		return domain.MessageLogEntry{}, false, nil
	}
	entry.ExtractedFields = domain.CloneFields(entry.ExtractedFields)
	return entry, true, nil
}

func (m *MemoryStore) LogMessage(_ context.Context, entry domain.MessageLogEntry) (bool, error) {
	if entry.MessageID == "" {
		return false, errors.New("message id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.messages[entry.MessageID]; exists {
		return false, nil
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	entry.ExtractedFields = domain.CloneFields(entry.ExtractedFields)
	m.messages[entry.MessageID] = entry
	return true, nil
}

func (m *MemoryStore) UpdateMessage(_ context.Context, messageID string, patch domain.MessageLogPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if patch.StoreID != "" {
		entry.StoreID = patch.StoreID
	}
	if patch.MediaURL != "" {
		entry.MediaURL = patch.MediaURL
	}
	if patch.Classification != "" {
		entry.Classification = patch.Classification
	}
	if patch.ExtractedFields != nil {
		entry.ExtractedFields = domain.CloneFields(patch.ExtractedFields)
	}
	if patch.Processed {
		entry.Processed = true
	}
	entry.UpdatedAt = time.Now().UTC()
	m.messages[messageID] = entry
	return nil
}

func (m *MemoryStore) CreatePendingAction(_ context.Context, action domain.PendingAction) (domain.PendingAction, bool, error) {
	if action.SourceMessageID == "" {
		return domain.PendingAction{}, false, errors.New("source message id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, exists := m.bySource[action.SourceMessageID]; exists {
		return cloneAction(m.actions[id]), false, nil
	}
	action = newPendingAction(action, uuid.NewString(), time.Now())
	action.Fields = domain.CloneFields(action.Fields)
	m.actions[action.ID] = action
	m.bySource[action.SourceMessageID] = action.ID
	m.pointers[action.SenderID] = action.ID
	return cloneAction(action), true, nil
}

func (m *MemoryStore) GetPendingAction(_ context.Context, actionID string) (domain.PendingAction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	action, ok := m.actions[actionID]
	if !ok {
		return domain.PendingAction{}, false, nil
	}
	return cloneAction(action), true, nil
}

func (m *MemoryStore) LatestPendingAction(_ context.Context, senderID string, now time.Time) (domain.PendingAction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.pointers[senderID]
	if !ok {
		return domain.PendingAction{}, false, nil
	}
	action, ok := m.actions[id]
	if !ok || !action.Live(now) {
		return domain.PendingAction{}, false, nil
	}
	return cloneAction(action), true, nil
}

func (m *MemoryStore) UpdatePendingFields(_ context.Context, actionID string, fields domain.Fields) (domain.PendingAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	action, ok := m.actions[actionID]
	if !ok {
		return domain.PendingAction{}, fmt.Errorf("pending action %s: %w", actionID, ErrNotFound)
	}
	if action.Status != domain.PendingStatusPending {
		return domain.PendingAction{}, fmt.Errorf("pending action %s: %w", actionID, ErrInvalidTransition)
	}
	action.Fields = domain.CloneFields(domain.NormalizeFields(action.Category, fields))
	action.UpdatedAt = time.Now().UTC()
	m.actions[actionID] = action
	return cloneAction(action), nil
}

func (m *MemoryStore) TransitionPendingAction(_ context.Context, actionID string, to domain.PendingStatus) (domain.PendingAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	action, ok := m.actions[actionID]
	if !ok {
		return domain.PendingAction{}, fmt.Errorf("pending action %s: %w", actionID, ErrNotFound)
	}
	if !validTransition(action.Status, to) {
		return domain.PendingAction{}, fmt.Errorf("pending action %s %s -> %s: %w", actionID, action.Status, to, ErrInvalidTransition)
	}
	action.Status = to
	action.UpdatedAt = time.Now().UTC()
	m.actions[actionID] = action
	return cloneAction(action), nil
}

func (m *MemoryStore) ExpirePendingActions(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, action := range m.actions {
		if action.Status == domain.PendingStatusPending && !action.ExpiresAt.After(now) {
			action.Status = domain.PendingStatusExpired
			action.UpdatedAt = time.Now().UTC()
			m.actions[id] = action
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListActionsByStore(_ context.Context, storeID string, status domain.PendingStatus, from, to time.Time) ([]domain.PendingAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.PendingAction
	for _, action := range m.actions {
		if action.StoreID != storeID || action.Status != status {
			continue
		}
		if action.CreatedAt.Before(from) || !action.CreatedAt.Before(to) {
			continue
		}
		res = append(res, cloneAction(action))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) GetBinding(_ context.Context, senderID string) (domain.StoreBinding, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bindings[senderID]
	return b, ok, nil
}

func (m *MemoryStore) SaveBinding(_ context.Context, binding domain.StoreBinding) error {
	if binding.UpdatedAt.IsZero() {
		binding.UpdatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[binding.SenderID] = binding
	return nil
}

func (m *MemoryStore) GetStore(_ context.Context, storeID string) (domain.Store, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stores[storeID]
	return st, ok, nil
}

func (m *MemoryStore) SaveStore(_ context.Context, st domain.Store) error {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.stores[st.ID]; ok {
		st.CreatedAt = existing.CreatedAt
	} else if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	m.stores[st.ID] = st
	return nil
}

func cloneAction(a domain.PendingAction) domain.PendingAction {
	a.Fields = domain.CloneFields(a.Fields)
	return a
}
