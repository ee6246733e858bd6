package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps accounts in process. It backs tests and the local
// analyze command.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]Balance
	entries  []Entry
	keys     map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]Balance),
		keys:     make(map[string]struct{}),
	}
}

func (m *MemoryStore) ReadBalance(ctx context.Context, userID uuid.UUID) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.accounts[userID]
	if !ok {
		return Balance{}, ErrNoAccount
	}
	return copyBalance(b), nil
}

func (m *MemoryStore) CompareAndSetBalance(ctx context.Context, userID uuid.UUID, expected, next Balance) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.accounts[userID]
	if !ok {
		return false, ErrNoAccount
	}
	if cur.Version != expected.Version {
		return false, nil
	}
	next = copyBalance(next)
	next.Version = cur.Version + 1
	m.accounts[userID] = next
	return true, nil
}

func (m *MemoryStore) AppendAuditEntry(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CorrelationID != nil {
		k := string(e.Reason) + "\x00" + *e.CorrelationID
		if _, dup := m.keys[k]; dup {
			return ErrDuplicateKey
		}
		m.keys[k] = struct{}{}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryStore) EnsureAccount(ctx context.Context, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[userID]; ok {
		return false, nil
	}
	m.accounts[userID] = Balance{Tier: TierFree}
	return true, nil
}

// Entries returns the audit trail for userID in insertion order.
func (m *MemoryStore) Entries(userID uuid.UUID) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func copyBalance(b Balance) Balance {
	if b.ResetAt != nil {
		t := *b.ResetAt
		b.ResetAt = &t
	}
	return b
}
