package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"wintrust/internal/models"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newRaffle(id string, total int, endsAt time.Time) *models.Raffle {
	return &models.Raffle{
		ID:             id,
		Name:           "Sorteo " + id,
		Prize:          "100 WLD",
		Description:    "raffle " + id,
		PricePerNumber: 1,
		EndsAt:         endsAt,
		TotalNumbers:   total,
		CreatedAt:      baseTime,
	}
}

// StoreSuite runs the same behaviour checks against every backend.
type StoreSuite struct {
	suite.Suite
	newStore func(t *testing.T) Store
	store    Store
	ctx      context.Context
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore(s.T())
}

func (s *StoreSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *StoreSuite) create(id string, total int, endsAt time.Time) {
	s.Require().NoError(s.store.Create(s.ctx, newRaffle(id, total, endsAt)))
}

func (s *StoreSuite) TestCreateAndGet() {
	s.create("r1", 10, baseTime.Add(time.Hour))

	got, err := s.store.Get(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal("Sorteo r1", got.Name)
	s.Equal(10, got.TotalNumbers)
	s.True(got.EndsAt.Equal(baseTime.Add(time.Hour)))
	s.Empty(got.SoldNumbers)
	s.NotNil(got.SoldNumbers)
	s.Nil(got.Winner)

	s.Run("duplicate id", func() {
		s.ErrorIs(s.store.Create(s.ctx, newRaffle("r1", 5, baseTime)), ErrAlreadyExists)
	})
	s.Run("unknown id", func() {
		_, err := s.store.Get(s.ctx, "missing")
		s.ErrorIs(err, ErrNotFound)
	})
	s.Run("invalid raffle", func() {
		s.ErrorIs(s.store.Create(s.ctx, newRaffle("r2", 0, baseTime)), ErrInvalidRaffle)
		s.ErrorIs(s.store.Create(s.ctx, newRaffle("", 3, baseTime)), ErrInvalidRaffle)
	})
}

func (s *StoreSuite) TestRecordParticipation() {
	s.create("r1", 3, baseTime.Add(time.Hour))

	p, err := s.store.RecordParticipation(s.ctx, "r1", "user-a", 2, baseTime)
	s.Require().NoError(err)
	s.Equal(2, p.Number)
	s.Equal("user-a", p.Nullifier)
	s.Equal("r1", p.RaffleID)

	s.Run("number taken", func() {
		_, err := s.store.RecordParticipation(s.ctx, "r1", "user-b", 2, baseTime)
		s.ErrorIs(err, ErrNumberTaken)
	})
	s.Run("identity already holds a number", func() {
		_, err := s.store.RecordParticipation(s.ctx, "r1", "user-a", 3, baseTime)
		s.ErrorIs(err, ErrAlreadyParticipating)
	})
	s.Run("out of range", func() {
		_, err := s.store.RecordParticipation(s.ctx, "r1", "user-c", 0, baseTime)
		s.ErrorIs(err, ErrNumberOutOfRange)
		_, err = s.store.RecordParticipation(s.ctx, "r1", "user-c", 4, baseTime)
		s.ErrorIs(err, ErrNumberOutOfRange)
	})
	s.Run("empty nullifier", func() {
		_, err := s.store.RecordParticipation(s.ctx, "r1", "", 1, baseTime)
		s.ErrorIs(err, ErrEmptyNullifier)
	})
	s.Run("unknown raffle", func() {
		_, err := s.store.RecordParticipation(s.ctx, "missing", "user-c", 1, baseTime)
		s.ErrorIs(err, ErrNotFound)
	})

	_, err = s.store.RecordParticipation(s.ctx, "r1", "user-c", 1, baseTime)
	s.Require().NoError(err)
	_, err = s.store.RecordParticipation(s.ctx, "r1", "user-d", 3, baseTime)
	s.Require().NoError(err)

	s.Run("sold out", func() {
		_, err := s.store.RecordParticipation(s.ctx, "r1", "user-e", 1, baseTime)
		s.ErrorIs(err, ErrRaffleFull)
	})

	got, err := s.store.Get(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal([]int{2, 1, 3}, got.SoldNumbers)

	parts, err := s.store.Participations(s.ctx, "r1")
	s.Require().NoError(err)
	s.Require().Len(parts, 3)
	s.Equal("user-a", parts[0].Nullifier)
	s.Equal("user-c", parts[1].Nullifier)
	s.Equal("user-d", parts[2].Nullifier)
}

func (s *StoreSuite) TestUpdateRollsBackOnError() {
	s.create("r1", 5, baseTime.Add(time.Hour))

	boom := fmt.Errorf("boom")
	err := s.store.Update(s.ctx, "r1", func(tx Tx) error {
		if _, err := tx.RecordParticipation("user-a", 1, baseTime); err != nil {
			return err
		}
		s.Equal([]int{1}, tx.Raffle().SoldNumbers)
		return boom
	})
	s.ErrorIs(err, boom)

	got, err := s.store.Get(s.ctx, "r1")
	s.Require().NoError(err)
	s.Empty(got.SoldNumbers)

	// The rolled-back identity and number are both free again.
	_, err = s.store.RecordParticipation(s.ctx, "r1", "user-a", 1, baseTime)
	s.NoError(err)
}

func (s *StoreSuite) TestUpdateSeesOwnWrites() {
	s.create("r1", 5, baseTime.Add(time.Hour))

	err := s.store.Update(s.ctx, "r1", func(tx Tx) error {
		if _, err := tx.RecordParticipation("user-a", 4, baseTime); err != nil {
			return err
		}
		p, err := tx.Participation(4)
		if err != nil {
			return err
		}
		s.Equal("user-a", p.Nullifier)

		_, err = tx.RecordParticipation("user-a", 5, baseTime)
		s.ErrorIs(err, ErrAlreadyParticipating)
		return nil
	})
	s.Require().NoError(err)

	got, err := s.store.Get(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal([]int{4}, got.SoldNumbers)
}

func (s *StoreSuite) TestSetWinner() {
	s.create("r1", 5, baseTime.Add(time.Hour))
	_, err := s.store.RecordParticipation(s.ctx, "r1", "user-a", 3, baseTime)
	s.Require().NoError(err)

	s.Run("not a participant", func() {
		s.ErrorIs(s.store.SetWinner(s.ctx, "r1", 4, "user-a"), ErrWinnerNotParticipant)
		s.ErrorIs(s.store.SetWinner(s.ctx, "r1", 3, "user-b"), ErrWinnerNotParticipant)
	})

	s.Require().NoError(s.store.SetWinner(s.ctx, "r1", 3, "user-a"))

	s.Run("write once", func() {
		s.ErrorIs(s.store.SetWinner(s.ctx, "r1", 3, "user-a"), ErrWinnerAlreadySet)
	})

	got, err := s.store.Get(s.ctx, "r1")
	s.Require().NoError(err)
	s.Require().NotNil(got.Winner)
	s.Equal(models.Winner{Number: 3, Nullifier: "user-a"}, *got.Winner)
}

func (s *StoreSuite) TestListings() {
	s.create("late", 5, baseTime.Add(2*time.Hour))
	s.create("early", 5, baseTime.Add(time.Hour))
	s.create("closed-sold", 5, baseTime.Add(-time.Hour))
	s.create("closed-empty", 5, baseTime.Add(-time.Hour))
	s.create("closed-drawn", 5, baseTime.Add(-2*time.Hour))
	s.create("boundary", 5, baseTime)

	for _, id := range []string{"closed-sold", "closed-drawn"} {
		err := s.store.Update(s.ctx, id, func(tx Tx) error {
			_, err := tx.RecordParticipation("user-a", 1, baseTime.Add(-3*time.Hour))
			return err
		})
		s.Require().NoError(err)
	}
	s.Require().NoError(s.store.SetWinner(s.ctx, "closed-drawn", 1, "user-a"))

	active, err := s.store.ListActive(s.ctx, baseTime)
	s.Require().NoError(err)
	ids := make([]string, 0, len(active))
	for _, r := range active {
		ids = append(ids, r.ID)
	}
	s.Equal([]string{"boundary", "early", "late"}, ids)

	awaiting, err := s.store.ListAwaitingDraw(s.ctx, baseTime)
	s.Require().NoError(err)
	s.Equal([]string{"closed-sold"}, awaiting)
}

func (s *StoreSuite) TestReturnedRafflesAreCopies() {
	s.create("r1", 5, baseTime.Add(time.Hour))

	got, err := s.store.Get(s.ctx, "r1")
	s.Require().NoError(err)
	got.SoldNumbers = append(got.SoldNumbers, 1)
	got.Name = "changed"

	again, err := s.store.Get(s.ctx, "r1")
	s.Require().NoError(err)
	s.Empty(again.SoldNumbers)
	s.Equal("Sorteo r1", again.Name)
}

func (s *StoreSuite) TestConcurrentBuyersOfOneNumber() {
	s.create("r1", 5, baseTime.Add(time.Hour))

	const buyers = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.RecordParticipation(s.ctx, "r1", fmt.Sprintf("user-%d", i), 3, baseTime)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			s.ErrorIs(err, ErrNumberTaken)
		}()
	}
	wg.Wait()

	s.Equal(1, wins)
	got, err := s.store.Get(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal([]int{3}, got.SoldNumbers)
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(*testing.T) Store {
		return NewMemoryStore()
	}})
}

func TestGormStoreSQLite(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(t *testing.T) Store {
		db, err := OpenSQLite("")
		require.NoError(t, err)
		st, err := NewGormStore(db)
		require.NoError(t, err)
		return st
	}})
}

func TestGormStoreSQLiteFile(t *testing.T) {
	path := t.TempDir() + "/raffles.db"

	db, err := OpenSQLite(path)
	require.NoError(t, err)
	st, err := NewGormStore(db)
	require.NoError(t, err)
	require.NoError(t, st.Create(context.Background(), newRaffle("r1", 3, baseTime)))
	_, err = st.RecordParticipation(context.Background(), "r1", "user-a", 2, baseTime)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	db, err = OpenSQLite(path)
	require.NoError(t, err)
	reopened, err := NewGormStore(db)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, []int{2}, got.SoldNumbers)
}
