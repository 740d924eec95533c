package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"wintrust/internal/models"
)

// raffleEntry holds the data for a single raffle. Its mutex serializes every
// read-check-write sequence on that raffle.
type raffleEntry struct {
	mu     sync.Mutex
	raffle *models.Raffle
	// owners maps a sold number to its participation.
	owners map[int]*models.Participation
	// holders maps an identity nullifier to the number it bought.
	holders map[string]int
}

// MemoryStore keeps raffles in process memory.
// The outer lock only guards the map; per-raffle work locks the entry.
type MemoryStore struct {
	mu      sync.RWMutex
	raffles map[string]*raffleEntry // Key: raffle ID
}

// NewMemoryStore creates and initializes a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		raffles: make(map[string]*raffleEntry),
	}
}

// getEntry returns the entry for a raffle.
func (s *MemoryStore) getEntry(id string) (*raffleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.raffles[id]
	if !exists {
		return nil, ErrNotFound
	}
	return entry, nil
}

// entries returns a snapshot of all entries.
func (s *MemoryStore) entries() []*raffleEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*raffleEntry, 0, len(s.raffles))
	for _, e := range s.raffles {
		out = append(out, e)
	}
	return out
}

// Create stores a new raffle.
func (s *MemoryStore) Create(_ context.Context, raffle *models.Raffle) error {
	if err := validateNew(raffle); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.raffles[raffle.ID]; exists {
		return ErrAlreadyExists
	}
	s.raffles[raffle.ID] = &raffleEntry{
		raffle:  raffle.Clone(),
		owners:  make(map[int]*models.Participation),
		holders: make(map[string]int),
	}
	return nil
}

// Get returns a copy of a raffle.
func (s *MemoryStore) Get(_ context.Context, id string) (*models.Raffle, error) {
	entry, err := s.getEntry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.raffle.Clone(), nil
}

// ListActive returns copies of the raffles still open at now.
func (s *MemoryStore) ListActive(_ context.Context, now time.Time) ([]*models.Raffle, error) {
	var active []*models.Raffle
	for _, entry := range s.entries() {
		entry.mu.Lock()
		if entry.raffle.IsOpen(now) {
			active = append(active, entry.raffle.Clone())
		}
		entry.mu.Unlock()
	}
	sortRaffles(active)
	return active, nil
}

// ListAwaitingDraw returns the ids of closed raffles with sales and no winner.
func (s *MemoryStore) ListAwaitingDraw(_ context.Context, now time.Time) ([]string, error) {
	var ids []string
	for _, entry := range s.entries() {
		entry.mu.Lock()
		r := entry.raffle
		if !r.IsOpen(now) && r.Winner == nil && len(r.SoldNumbers) > 0 {
			ids = append(ids, r.ID)
		}
		entry.mu.Unlock()
	}
	sort.Strings(ids)
	return ids, nil
}

// Participations returns a raffle's participations in sale order.
func (s *MemoryStore) Participations(_ context.Context, raffleID string) ([]models.Participation, error) {
	entry, err := s.getEntry(raffleID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	out := make([]models.Participation, 0, len(entry.raffle.SoldNumbers))
	for _, n := range entry.raffle.SoldNumbers {
		out = append(out, *entry.owners[n])
	}
	return out, nil
}

// RecordParticipation sells number to nullifier as a single-step unit.
func (s *MemoryStore) RecordParticipation(ctx context.Context, raffleID, nullifier string, number int, at time.Time) (*models.Participation, error) {
	var p *models.Participation
	err := s.Update(ctx, raffleID, func(tx Tx) error {
		var err error
		p, err = tx.RecordParticipation(nullifier, number, at)
		return err
	})
	return p, err
}

// SetWinner records the winner of a raffle. It fails if one is already set.
func (s *MemoryStore) SetWinner(ctx context.Context, raffleID string, number int, nullifier string) error {
	return s.Update(ctx, raffleID, func(tx Tx) error {
		return tx.SetWinner(number, nullifier)
	})
}

// Update runs fn while holding the raffle's lock and applies its writes on success.
func (s *MemoryStore) Update(ctx context.Context, raffleID string, fn func(tx Tx) error) error {
	entry, err := s.getEntry(raffleID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{entry: entry, working: entry.raffle.Clone()}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// memoryTx buffers writes against a working copy of the raffle.
type memoryTx struct {
	entry   *raffleEntry
	working *models.Raffle
	pending []*models.Participation
}

func (t *memoryTx) Raffle() *models.Raffle {
	return t.working
}

func (t *memoryTx) Participation(number int) (*models.Participation, error) {
	if p, ok := t.entry.owners[number]; ok {
		cp := *p
		return &cp, nil
	}
	for _, p := range t.pending {
		if p.Number == number {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrParticipationNotFound
}

func (t *memoryTx) holds(nullifier string) bool {
	if _, ok := t.entry.holders[nullifier]; ok {
		return true
	}
	return slices.ContainsFunc(t.pending, func(p *models.Participation) bool {
		return p.Nullifier == nullifier
	})
}

func (t *memoryTx) RecordParticipation(nullifier string, number int, at time.Time) (*models.Participation, error) {
	if err := checkSale(t.working, nullifier, number, t.holds(nullifier)); err != nil {
		return nil, err
	}
	p := &models.Participation{
		RaffleID:  t.working.ID,
		Nullifier: nullifier,
		Number:    number,
		CreatedAt: at,
	}
	t.working.SoldNumbers = append(t.working.SoldNumbers, number)
	t.pending = append(t.pending, p)
	cp := *p
	return &cp, nil
}

func (t *memoryTx) SetWinner(number int, nullifier string) error {
	owner, _ := t.Participation(number)
	if err := checkWinner(t.working, owner, nullifier); err != nil {
		return err
	}
	t.working.Winner = &models.Winner{Number: number, Nullifier: nullifier}
	return nil
}

// commit publishes the working copy. Must be called while holding entry.mu.
func (t *memoryTx) commit() {
	for _, p := range t.pending {
		t.entry.owners[p.Number] = p
		t.entry.holders[p.Nullifier] = p.Number
	}
	t.entry.raffle = t.working
}

func sortRaffles(rs []*models.Raffle) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].EndsAt.Equal(rs[j].EndsAt) {
			return rs[i].EndsAt.Before(rs[j].EndsAt)
		}
		return rs[i].ID < rs[j].ID
	})
}
