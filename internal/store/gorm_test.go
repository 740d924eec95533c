package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Rows written by another process after Update loaded the raffle are only
// caught by the unique indexes; the error must name the index that fired.
func TestGormTx_DuplicateFromAnotherWriter(t *testing.T) {
	db, err := OpenSQLite("")
	require.NoError(t, err)
	st, err := NewGormStore(db)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.Create(ctx, newRaffle("r1", 5, baseTime.Add(time.Hour))))

	err = st.Update(ctx, "r1", func(tx Tx) error {
		gt := tx.(*gormTx)
		require.NoError(t, gt.db.Create(&participationRecord{
			RaffleID:  "r1",
			Number:    1,
			Nullifier: "user-a",
			CreatedAt: baseTime,
		}).Error)

		_, err := tx.RecordParticipation("user-a", 2, baseTime)
		assert.ErrorIs(t, err, ErrAlreadyParticipating)

		_, err = tx.RecordParticipation("user-b", 1, baseTime)
		assert.ErrorIs(t, err, ErrNumberTaken)

		p, err := tx.RecordParticipation("user-b", 3, baseTime)
		require.NoError(t, err)
		assert.Equal(t, 3, p.Number)
		return nil
	})
	require.NoError(t, err)

	got, err := st.Get(ctx, "r1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 3}, got.SoldNumbers)
}
