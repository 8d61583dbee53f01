package syncutil

import (
	"sync"
	"testing"
)

func TestShardedMutex_MutualExclusion(t *testing.T) {
	var m ShardedMutex
	var counter int
	var wg sync.WaitGroup

	const n = 200
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock := m.Lock("customer-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != n {
		t.Errorf("expected counter %d, got %d", n, counter)
	}
}

func TestShardedMutex_LockAll_NoDeadlockOnReverseOrder(t *testing.T) {
	var m ShardedMutex
	keys := []string{"txn_a", "txn_b", "txn_c", "txn_d"}
	reversed := []string{"txn_d", "txn_c", "txn_b", "txn_a"}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			unlock := m.LockAll(keys)
			unlock()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			unlock := m.LockAll(reversed)
			unlock()
		}
	}()
	wg.Wait()
}

func TestShardedMutex_LockAll_DuplicateKeys(t *testing.T) {
	var m ShardedMutex
	// Duplicate keys must not self-deadlock.
	unlock := m.LockAll([]string{"same", "same", "same"})
	unlock()
}
