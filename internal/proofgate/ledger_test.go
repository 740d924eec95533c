package proofgate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLedger exercises the behaviour every Ledger backend shares.
func testLedger(t *testing.T, l Ledger) {
	ctx := context.Background()

	t.Run("reserve once", func(t *testing.T) {
		ok, err := l.Reserve(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = l.Reserve(ctx, "k1")
		require.NoError(t, err)
		assert.False(t, ok)

		consumed, err := l.Consumed(ctx, "k1")
		require.NoError(t, err)
		assert.False(t, consumed)
	})

	t.Run("release frees a pending key", func(t *testing.T) {
		ok, err := l.Reserve(ctx, "k2")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, l.Release(ctx, "k2"))

		ok, err = l.Reserve(ctx, "k2")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("commit is permanent", func(t *testing.T) {
		ok, err := l.Reserve(ctx, "k3")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, l.Commit(ctx, "k3"))
		require.NoError(t, l.Release(ctx, "k3"))

		consumed, err := l.Consumed(ctx, "k3")
		require.NoError(t, err)
		assert.True(t, consumed)

		ok, err = l.Reserve(ctx, "k3")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown key", func(t *testing.T) {
		consumed, err := l.Consumed(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, consumed)
		assert.NoError(t, l.Release(ctx, "missing"))
	})

	t.Run("concurrent reserve has one winner", func(t *testing.T) {
		for i := range 5 {
			key := fmt.Sprintf("race-%d", i)
			var (
				wg   sync.WaitGroup
				wins atomic.Int32
			)
			for range 16 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := l.Reserve(ctx, key)
					assert.NoError(t, err)
					if ok {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load(), key)
		}
	})
}

func TestMemoryLedger(t *testing.T) {
	testLedger(t, NewMemoryLedger())
}

func TestBadgerLedger(t *testing.T) {
	l, err := OpenBadgerLedger("", 0)
	require.NoError(t, err)
	defer l.Close()
	testLedger(t, l)
}

func TestBadgerLedger_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	l, err := OpenBadgerLedger(dir, 0)
	require.NoError(t, err)
	ok, err := l.Reserve(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, l.Commit(ctx, "k"))
	require.NoError(t, l.Close())

	l, err = OpenBadgerLedger(dir, 0)
	require.NoError(t, err)
	defer l.Close()
	consumed, err := l.Consumed(ctx, "k")
	require.NoError(t, err)
	assert.True(t, consumed)
}
