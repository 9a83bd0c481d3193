// Package webhooks receives payment processor webhooks, verifies their
// signature and drives payment records to their terminal state exactly once
// per processor event.
package webhooks

import (
	"context"
	"sync"
	"time"
)

// ledgerTTL is how long a processed event id is remembered. The processor
// stops retrying a delivery well within this window.
const ledgerTTL = 7 * 24 * time.Hour

// Ledger remembers processed event ids.
type Ledger interface {
	// Claim records eventID and reports whether this caller owns it. False
	// means the event was already claimed.
	Claim(ctx context.Context, eventID, eventType string) (bool, error)
	// Release forgets eventID so a redelivery is processed again.
	Release(ctx context.Context, eventID string) error
}

// MemoryLedger is an in-process ledger with expiry.
type MemoryLedger struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
	sweeps int
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]time.Time), ttl: ledgerTTL, now: time.Now}
}

func (m *MemoryLedger) Claim(_ context.Context, eventID, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if at, ok := m.seen[eventID]; ok && now.Sub(at) < m.ttl {
		return false, nil
	}
	m.seen[eventID] = now

	m.sweeps++
	if m.sweeps%1024 == 0 {
		for id, at := range m.seen {
			if now.Sub(at) >= m.ttl {
				delete(m.seen, id)
			}
		}
	}
	return true, nil
}

func (m *MemoryLedger) Release(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, eventID)
	return nil
}
