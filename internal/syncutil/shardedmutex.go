package syncutil

import (
	"hash/fnv"
	"sort"
	"sync"
)

// ShardedMutex provides a fixed-size pool of mutexes keyed by string.
// Unlike sync.Map-based per-key locks, this uses bounded memory regardless
// of how many keys are seen, at the cost of occasional false sharing between
// keys that hash to the same shard.
type ShardedMutex struct {
	shards [256]sync.Mutex
}

// Lock acquires the mutex for the given key and returns an unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

// LockAll acquires the mutexes for every key and returns a single unlock
// function. Shards are acquired in ascending shard order (duplicates
// collapsed), so two LockAll calls over overlapping key sets cannot
// deadlock each other.
func (s *ShardedMutex) LockAll(keys []string) func() {
	seen := make(map[uint32]struct{}, len(keys))
	idxs := make([]int, 0, len(keys))
	for _, k := range keys {
		idx := s.shardIdx(k)
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		idxs = append(idxs, int(idx))
	}
	sort.Ints(idxs)

	for _, i := range idxs {
		s.shards[i].Lock()
	}
	return func() {
		for i := len(idxs) - 1; i >= 0; i-- {
			s.shards[idxs[i]].Unlock()
		}
	}
}

func (s *ShardedMutex) shard(key string) *sync.Mutex {
	return &s.shards[s.shardIdx(key)]
}

func (s *ShardedMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % 256
}
