package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wintrust/internal/models"
)

func raffleWithSold(total int, sold ...int) *models.Raffle {
	return &models.Raffle{
		ID:             "r1",
		PricePerNumber: 1,
		TotalNumbers:   total,
		SoldNumbers:    sold,
		EndsAt:         time.Now().Add(time.Hour),
	}
}

func intPtr(n int) *int { return &n }

func TestNumberAllocator_Allocate(t *testing.T) {
	a := NewNumberAllocator(NewSeededSource(1))

	t.Run("last free number", func(t *testing.T) {
		for range 20 {
			n, err := a.Allocate(raffleWithSold(3, 1, 2), nil)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
		}
	})

	t.Run("requested number", func(t *testing.T) {
		n, err := a.Allocate(raffleWithSold(10, 1), intPtr(7))
		require.NoError(t, err)
		assert.Equal(t, 7, n)
	})

	t.Run("requested number taken", func(t *testing.T) {
		r := raffleWithSold(10, 4)
		_, err := a.Allocate(r, intPtr(4))
		assert.ErrorIs(t, err, ErrNumberTaken)
		assert.Equal(t, []int{4}, r.SoldNumbers)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := a.Allocate(raffleWithSold(10), intPtr(0))
		assert.ErrorIs(t, err, ErrOutOfRange)
		_, err = a.Allocate(raffleWithSold(10), intPtr(11))
		assert.ErrorIs(t, err, ErrOutOfRange)
	})

	t.Run("sold out", func(t *testing.T) {
		_, err := a.Allocate(raffleWithSold(2, 2, 1), nil)
		assert.ErrorIs(t, err, ErrNoNumbersAvailable)
	})
}

func TestNumberAllocator_CoversUnsoldNumbers(t *testing.T) {
	a := NewNumberAllocator(NewSeededSource(42))
	r := raffleWithSold(10, 2, 4, 6, 8, 10)

	seen := map[int]int{}
	for range 1000 {
		n, err := a.Allocate(r, nil)
		require.NoError(t, err)
		seen[n]++
	}

	assert.Len(t, seen, 5)
	for _, n := range []int{1, 3, 5, 7, 9} {
		// 200 expected per number.
		assert.InDelta(t, 200, seen[n], 80, "number %d", n)
	}
}

func TestNewSeededSource_Deterministic(t *testing.T) {
	a, b := NewSeededSource(7), NewSeededSource(7)
	for range 50 {
		assert.Equal(t, a.IntN(1000), b.IntN(1000))
	}
}
