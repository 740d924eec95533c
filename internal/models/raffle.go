package models

import (
	"slices"
	"time"
)

// Raffle represents a numbered-ticket draw.
// Tickets are numbered 1..TotalNumbers and each number can be sold once.
// SoldNumbers keeps the order in which numbers were sold.
type Raffle struct {
	ID             string    `json:"id"`
	Name           string    `json:"nombre"`
	Prize          string    `json:"premio"`
	Description    string    `json:"descripcion"`
	PricePerNumber float64   `json:"precio_por_numero"`
	EndsAt         time.Time `json:"fecha_fin"`
	TotalNumbers   int       `json:"total_numeros"`
	SoldNumbers    []int     `json:"numeros_vendidos"`
	Winner         *Winner   `json:"ganador,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Winner links the drawn number to the identity nullifier that bought it.
// Once set on a raffle it never changes.
type Winner struct {
	Number    int    `json:"numero"`
	Nullifier string `json:"nullifier_hash"`
}

// Participation is the record of one successful ticket purchase.
type Participation struct {
	RaffleID  string    `json:"raffleId"`
	Nullifier string    `json:"nullifier_hash"`
	Number    int       `json:"numero_asignado"`
	CreatedAt time.Time `json:"fecha"`
}

// IsOpen reports whether numbers can still be sold at now.
// A raffle is open up to and including its end instant.
func (r *Raffle) IsOpen(now time.Time) bool {
	return !now.After(r.EndsAt)
}

// IsSoldOut reports whether every number has been sold.
func (r *Raffle) IsSoldOut() bool {
	return len(r.SoldNumbers) >= r.TotalNumbers
}

// InRange reports whether n is a valid ticket number for this raffle.
func (r *Raffle) InRange(n int) bool {
	return n >= 1 && n <= r.TotalNumbers
}

// IsSold reports whether n has already been sold.
func (r *Raffle) IsSold(n int) bool {
	return slices.Contains(r.SoldNumbers, n)
}

// Unsold returns the numbers still available, in ascending order.
func (r *Raffle) Unsold() []int {
	sold := make(map[int]struct{}, len(r.SoldNumbers))
	for _, n := range r.SoldNumbers {
		sold[n] = struct{}{}
	}
	unsold := make([]int, 0, r.TotalNumbers-len(sold))
	for n := 1; n <= r.TotalNumbers; n++ {
		if _, ok := sold[n]; !ok {
			unsold = append(unsold, n)
		}
	}
	return unsold
}

// Clone returns a deep copy so callers never share a store's internal state.
func (r *Raffle) Clone() *Raffle {
	if r == nil {
		return nil
	}
	c := *r
	c.SoldNumbers = slices.Clone(r.SoldNumbers)
	if c.SoldNumbers == nil {
		c.SoldNumbers = []int{}
	}
	if r.Winner != nil {
		w := *r.Winner
		c.Winner = &w
	}
	return &c
}
