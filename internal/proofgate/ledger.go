package proofgate

import (
	"context"
	"sync"
)

type entryState uint8

const (
	statePending entryState = iota + 1
	stateConsumed
)

// MemoryLedger keeps the ledger in process memory.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]entryState
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]entryState)}
}

func (l *MemoryLedger) Reserve(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.entries[key]; exists {
		return false, nil
	}
	l.entries[key] = statePending
	return true, nil
}

func (l *MemoryLedger) Commit(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = stateConsumed
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries[key] == statePending {
		delete(l.entries, key)
	}
	return nil
}

func (l *MemoryLedger) Consumed(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[key] == stateConsumed, nil
}
