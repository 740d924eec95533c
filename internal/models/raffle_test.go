package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRaffle_IsOpen(t *testing.T) {
	end := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := &Raffle{EndsAt: end}

	assert.True(t, r.IsOpen(end.Add(-time.Second)))
	assert.True(t, r.IsOpen(end), "end instant is still open")
	assert.False(t, r.IsOpen(end.Add(time.Nanosecond)))
}

func TestRaffle_Unsold(t *testing.T) {
	r := &Raffle{TotalNumbers: 5, SoldNumbers: []int{4, 1}}

	assert.Equal(t, []int{2, 3, 5}, r.Unsold())
	assert.True(t, r.IsSold(4))
	assert.False(t, r.IsSold(2))
	assert.False(t, r.IsSoldOut())
	assert.False(t, r.InRange(0))
	assert.False(t, r.InRange(6))
	assert.True(t, r.InRange(5))
}

func TestRaffle_Clone(t *testing.T) {
	r := &Raffle{
		ID:          "r1",
		SoldNumbers: []int{1, 2},
		Winner:      &Winner{Number: 2, Nullifier: "0xabc"},
	}

	c := r.Clone()
	c.SoldNumbers[0] = 99
	c.Winner.Number = 1

	assert.Equal(t, 1, r.SoldNumbers[0])
	assert.Equal(t, 2, r.Winner.Number)
	assert.Nil(t, (*Raffle)(nil).Clone())
	assert.NotNil(t, (&Raffle{}).Clone().SoldNumbers)
}
