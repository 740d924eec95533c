package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/logger"

	"wintrust/internal/domainerrors"
	"wintrust/internal/metrics"
	"wintrust/internal/models"
	"wintrust/internal/store"
)

// WinnerSelector draws winners for closed raffles.
type WinnerSelector struct {
	store   store.Store
	src     Source
	metrics *metrics.Metrics
}

func NewWinnerSelector(st store.Store, src Source, m *metrics.Metrics) *WinnerSelector {
	if src == nil {
		src = globalSource{}
	}
	return &WinnerSelector{store: st, src: src, metrics: m}
}

// SelectWinner draws a winner if the raffle exists, has ended at now, has
// sales and no winner yet. In every other case it does nothing.
func (w *WinnerSelector) SelectWinner(ctx context.Context, raffleID string, now time.Time) error {
	_, err := w.draw(ctx, raffleID, now)
	return err
}

// draw returns the winner set by this call, or nil if nothing changed.
func (w *WinnerSelector) draw(ctx context.Context, raffleID string, now time.Time) (*models.Winner, error) {
	var drawn *models.Winner
	err := w.store.Update(ctx, raffleID, func(tx store.Tx) error {
		r := tx.Raffle()
		if r.Winner != nil || r.IsOpen(now) || len(r.SoldNumbers) == 0 {
			return nil
		}
		number := r.SoldNumbers[w.src.IntN(len(r.SoldNumbers))]
		p, err := tx.Participation(number)
		if err != nil {
			return domainerrors.Wrap(err, domainerrors.CodeInternal, "sold number has no participation")
		}
		if err := tx.SetWinner(number, p.Nullifier); err != nil {
			return err
		}
		drawn = &models.Winner{Number: number, Nullifier: p.Nullifier}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		logger.Errorf("winner selection for raffle %s failed: %v", raffleID, err)
		return nil, translateStoreError(err)
	}
	if drawn != nil {
		w.metrics.IncrementWinnersDrawn()
		logger.Infof("raffle %s settled: winning number %d", raffleID, drawn.Number)
	}
	return drawn, nil
}
