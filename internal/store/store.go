// Package store owns raffle and participation records. It is the single
// source of truth for ticket occupancy; every mutation of a raffle runs
// inside that raffle's exclusive Update unit.
package store

import (
	"context"
	"errors"
	"time"

	"wintrust/internal/models"
)

// Sentinel errors for storage facts. Services translate them into domain errors.
var (
	ErrNotFound              = errors.New("raffle not found")
	ErrAlreadyExists         = errors.New("raffle already exists")
	ErrInvalidRaffle         = errors.New("invalid raffle")
	ErrEmptyNullifier        = errors.New("empty identity nullifier")
	ErrNumberOutOfRange      = errors.New("number out of range")
	ErrNumberTaken           = errors.New("number already taken")
	ErrRaffleFull            = errors.New("no numbers available")
	ErrAlreadyParticipating  = errors.New("identity already holds a number in this raffle")
	ErrWinnerAlreadySet      = errors.New("winner already set")
	ErrWinnerNotParticipant  = errors.New("winner does not match a recorded participation")
	ErrParticipationNotFound = errors.New("participation not found")
)

// Store is implemented by every raffle persistence backend.
type Store interface {
	Create(ctx context.Context, raffle *models.Raffle) error
	Get(ctx context.Context, id string) (*models.Raffle, error)
	// ListActive returns raffles with now <= EndsAt, ordered by end time then id.
	ListActive(ctx context.Context, now time.Time) ([]*models.Raffle, error)
	// ListAwaitingDraw returns ids of closed raffles that have sales but no winner.
	ListAwaitingDraw(ctx context.Context, now time.Time) ([]string, error)
	// Participations returns a raffle's participations in sale order.
	Participations(ctx context.Context, raffleID string) ([]models.Participation, error)
	RecordParticipation(ctx context.Context, raffleID, nullifier string, number int, at time.Time) (*models.Participation, error)
	SetWinner(ctx context.Context, raffleID string, number int, nullifier string) error
	// Update runs fn with exclusive access to one raffle. Writes made through
	// the Tx are applied only if fn returns nil.
	Update(ctx context.Context, raffleID string, fn func(tx Tx) error) error
	Close() error
}

// Tx is the view of a single raffle inside an Update unit.
type Tx interface {
	// Raffle reflects writes already made in this unit. Callers must not modify it.
	Raffle() *models.Raffle
	Participation(number int) (*models.Participation, error)
	RecordParticipation(nullifier string, number int, at time.Time) (*models.Participation, error)
	SetWinner(number int, nullifier string) error
}

// validateNew checks the invariants a freshly created raffle must hold.
func validateNew(r *models.Raffle) error {
	if r == nil || r.ID == "" || r.TotalNumbers <= 0 || r.PricePerNumber <= 0 {
		return ErrInvalidRaffle
	}
	if len(r.SoldNumbers) != 0 || r.Winner != nil {
		return ErrInvalidRaffle
	}
	return nil
}

// checkSale applies the occupancy rules shared by all backends.
func checkSale(r *models.Raffle, nullifier string, number int, holdsNumber bool) error {
	if nullifier == "" {
		return ErrEmptyNullifier
	}
	if r.IsSoldOut() {
		return ErrRaffleFull
	}
	if !r.InRange(number) {
		return ErrNumberOutOfRange
	}
	if r.IsSold(number) {
		return ErrNumberTaken
	}
	if holdsNumber {
		return ErrAlreadyParticipating
	}
	return nil
}

// checkWinner enforces write-once winners resolved from a real participation.
func checkWinner(r *models.Raffle, owner *models.Participation, nullifier string) error {
	if r.Winner != nil {
		return ErrWinnerAlreadySet
	}
	if owner == nil || owner.Nullifier != nullifier {
		return ErrWinnerNotParticipant
	}
	return nil
}
