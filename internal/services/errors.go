package services

import (
	"errors"

	"wintrust/internal/domainerrors"
	"wintrust/internal/store"
)

var (
	ErrRaffleNotFound       = domainerrors.New(domainerrors.CodeNotFound, "raffle not found")
	ErrNoWinnerYet          = domainerrors.New(domainerrors.CodeNotFound, "no winner yet")
	ErrRaffleEnded          = domainerrors.New(domainerrors.CodeConflict, "raffle has ended")
	ErrNoNumbersAvailable   = domainerrors.New(domainerrors.CodeConflict, "no numbers available")
	ErrNumberTaken          = domainerrors.New(domainerrors.CodeConflict, "number already taken")
	ErrAlreadyParticipating = domainerrors.New(domainerrors.CodeConflict, "identity already holds a number in this raffle")
	ErrOutOfRange           = domainerrors.New(domainerrors.CodeValidation, "number out of range")
)

// translateStoreError maps storage sentinels onto the domain taxonomy.
// Anything unrecognised is internal.
func translateStoreError(err error) error {
	var de *domainerrors.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &de):
		return err
	case errors.Is(err, store.ErrNotFound):
		return ErrRaffleNotFound
	case errors.Is(err, store.ErrRaffleFull):
		return ErrNoNumbersAvailable
	case errors.Is(err, store.ErrNumberTaken):
		return ErrNumberTaken
	case errors.Is(err, store.ErrNumberOutOfRange):
		return ErrOutOfRange
	case errors.Is(err, store.ErrAlreadyParticipating):
		return ErrAlreadyParticipating
	case errors.Is(err, store.ErrEmptyNullifier):
		return domainerrors.Wrap(err, domainerrors.CodeValidation, "proof.nullifier_hash is required")
	case errors.Is(err, store.ErrInvalidRaffle):
		return domainerrors.Wrap(err, domainerrors.CodeValidation, "invalid raffle")
	default:
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "storage failure")
	}
}
