package provider

import (
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTableIDsStrictlyIncreasing(t *testing.T) {
	tbl := newTable()
	const workers = 16
	const perWorker = 64

	var mu sync.Mutex
	seen := make([]int64, 0, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				entry := tbl.register("GET_BALANCE", time.Now())
				mu.Lock()
				seen = append(seen, entry.id)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker)
	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	for i := 1; i < len(seen); i++ {
		require.Greater(t, seen[i], seen[i-1], "ids must never repeat")
	}
}

func TestTableTakeIsExactlyOnce(t *testing.T) {
	tbl := newTable()
	entry := tbl.register("SIGN_TRANSACTION", time.Now())

	const racers = 8
	var winners atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tbl.take(entry.id) != nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), winners.Load())
	require.Zero(t, tbl.size())
	require.Nil(t, tbl.take(entry.id))
}

func TestTableTakeUnknownID(t *testing.T) {
	tbl := newTable()
	require.Nil(t, tbl.take(99))
	tbl.register("X", time.Now())
	require.Nil(t, tbl.take(99))
	require.Equal(t, 1, tbl.size())
}

func TestTableMarkInFlight(t *testing.T) {
	tbl := newTable()
	entry := tbl.register("X", time.Now())
	require.Equal(t, StateCreated, entry.state)
	tbl.markInFlight(entry.id)
	taken := tbl.take(entry.id)
	require.NotNil(t, taken)
	require.Equal(t, StateInFlight, taken.state)
	// 已移除的条目再推进状态是空操作。
	tbl.markInFlight(entry.id)
}
