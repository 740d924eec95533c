package services

import (
	"math/rand/v2"
	"sync"

	"wintrust/internal/models"
)

// Source yields uniformly distributed integers in [0, n).
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// lockedSource makes a seeded generator safe for concurrent use.
type lockedSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (s *lockedSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.IntN(n)
}

// NewSeededSource returns a deterministic Source for a seed.
func NewSeededSource(seed uint64) Source {
	return &lockedSource{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NumberAllocator picks ticket numbers. It does not mutate the raffle;
// callers must hold the raffle's Update unit from allocation to recording.
type NumberAllocator struct {
	src Source
}

func NewNumberAllocator(src Source) *NumberAllocator {
	if src == nil {
		src = globalSource{}
	}
	return &NumberAllocator{src: src}
}

// Allocate returns requested if it is free, or a uniformly random unsold
// number when requested is nil.
func (a *NumberAllocator) Allocate(raffle *models.Raffle, requested *int) (int, error) {
	if requested != nil {
		n := *requested
		if !raffle.InRange(n) {
			return 0, ErrOutOfRange
		}
		if raffle.IsSold(n) {
			return 0, ErrNumberTaken
		}
		return n, nil
	}

	unsold := raffle.Unsold()
	if len(unsold) == 0 {
		return 0, ErrNoNumbersAvailable
	}
	return unsold[a.src.IntN(len(unsold))], nil
}
