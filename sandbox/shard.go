// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "sync"

// shardCount is the number of independent locks in a shardedMap.
// Authorization checks arrive from one goroutine per syscall-issuing
// task, so a single coarse lock would serialize every process's
// checks; 64 shards keeps unrelated pids on unrelated locks.
const shardCount = 64

// shardedMap is a pid-keyed map split across shardCount
// independently locked segments. Reads on different pids never
// contend unless they hash to the same shard; writes lock exactly one
// shard.
type shardedMap[V any] struct {
	shards [shardCount]struct {
		mu      sync.RWMutex
		entries map[uint32]V
	}
}

func newShardedMap[V any]() *shardedMap[V] {
	m := &shardedMap[V]{}
	for i := range m.shards {
		m.shards[i].entries = make(map[uint32]V)
	}
	return m
}

func (m *shardedMap[V]) shard(pid uint32) *struct {
	mu      sync.RWMutex
	entries map[uint32]V
} {
	// Fibonacci hashing spreads sequential pids across shards. The
	// top 6 bits of the 32-bit product index the 64 shards.
	return &m.shards[(pid*2654435761)>>26]
}

// get returns the value for pid, if present.
func (m *shardedMap[V]) get(pid uint32) (V, bool) {
	shard := m.shard(pid)
	shard.mu.RLock()
	value, ok := shard.entries[pid]
	shard.mu.RUnlock()
	return value, ok
}

// insert stores value for pid only if absent. Reports whether the
// insert happened.
func (m *shardedMap[V]) insert(pid uint32, value V) bool {
	shard := m.shard(pid)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if _, exists := shard.entries[pid]; exists {
		return false
	}
	shard.entries[pid] = value
	return true
}

// set stores value for pid unconditionally.
func (m *shardedMap[V]) set(pid uint32, value V) {
	shard := m.shard(pid)
	shard.mu.Lock()
	shard.entries[pid] = value
	shard.mu.Unlock()
}

// update applies fn to the current value for pid under the shard's
// write lock and stores the result. Returns false if pid is absent.
func (m *shardedMap[V]) update(pid uint32, fn func(V) V) bool {
	shard := m.shard(pid)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	value, ok := shard.entries[pid]
	if !ok {
		return false
	}
	shard.entries[pid] = fn(value)
	return true
}

// remove deletes pid's entry and returns it, if present.
func (m *shardedMap[V]) remove(pid uint32) (V, bool) {
	shard := m.shard(pid)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	value, ok := shard.entries[pid]
	if ok {
		delete(shard.entries, pid)
	}
	return value, ok
}

// length counts entries across all shards.
func (m *shardedMap[V]) length() int {
	total := 0
	for i := range m.shards {
		m.shards[i].mu.RLock()
		total += len(m.shards[i].entries)
		m.shards[i].mu.RUnlock()
	}
	return total
}

// pids returns every key across all shards. The snapshot is not
// atomic across shards; callers use it for iteration, not invariants.
func (m *shardedMap[V]) pids() []uint32 {
	var all []uint32
	for i := range m.shards {
		m.shards[i].mu.RLock()
		for pid := range m.shards[i].entries {
			all = append(all, pid)
		}
		m.shards[i].mu.RUnlock()
	}
	return all
}
