package parallel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForVisitsEveryIndex(t *testing.T) {
	for _, workers := range []int{0, 1, 3, 64} {
		const n = 1000
		var seen [n]atomic.Int32
		err := For(context.Background(), n, workers, func(i int) error {
			seen[i].Add(1)
			return nil
		})
		require.NoError(t, err)
		for i := range seen {
			assert.Equal(t, int32(1), seen[i].Load(), "index %d workers %d", i, workers)
		}
	}
}

func TestForReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	var ran atomic.Int32
	err := For(context.Background(), 100, 4, func(i int) error {
		ran.Add(1)
		if i == 10 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.LessOrEqual(t, ran.Load(), int32(100))
}

func TestForCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := For(ctx, 10, 2, func(int) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestForEmpty(t *testing.T) {
	require.NoError(t, For(context.Background(), 0, 4, func(int) error {
		t.Fatal("fn must not run")
		return nil
	}))
}

func TestAllocatorClaimsDisjointRanges(t *testing.T) {
	const claims = 200
	a := NewAllocator(10, 10+claims*3)
	out := make([]int, 10+claims*3)

	var wg sync.WaitGroup
	for w := range claims {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := a.Claim(3)
			for k := range 3 {
				out[start+k] = w + 1
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10+claims*3, a.Len())
	counts := map[int]int{}
	for _, v := range out[10:] {
		require.NotZero(t, v)
		counts[v]++
	}
	for w, c := range counts {
		assert.Equal(t, 3, c, "claimant %d", w)
	}
}

func TestAllocatorOverflowPanics(t *testing.T) {
	a := NewAllocator(0, 4)
	a.Claim(4)
	assert.Panics(t, func() { a.Claim(1) })
}
