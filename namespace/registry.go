// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package namespace

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// registry is the bookkeeping shared by every backend: the set of
// active namespaces and the pid → ID index enforcing the 1:1
// ownership invariant. Query methods are cheap reads under an
// RWMutex; the slow OS work in backends happens outside this lock.
type registry struct {
	mu         sync.RWMutex
	namespaces map[ID]Info
	byPid      map[uint32]ID
}

func newRegistry() *registry {
	return &registry{
		namespaces: make(map[ID]Info),
		byPid:      make(map[uint32]ID),
	}
}

// add registers an active namespace. Rejects a duplicate ID and a
// second namespace for the same pid.
func (r *registry) add(config Config, platform Platform) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.namespaces[config.ID]; exists {
		return Info{}, fmt.Errorf("%s: %w", config.ID, ErrAlreadyExists)
	}
	if existing, exists := r.byPid[config.Pid]; exists {
		return Info{}, fmt.Errorf("pid %d already owns %s: %w", config.Pid, existing, ErrAlreadyExists)
	}

	info := Info{
		Config:    config.clone(),
		Platform:  platform,
		CreatedAt: time.Now(),
	}
	r.namespaces[config.ID] = info
	r.byPid[config.Pid] = config.ID
	return info.clone(), nil
}

// clone deep-copies an Info so registry reads never alias stored
// state.
func (i Info) clone() Info {
	i.Config = i.Config.clone()
	return i
}

// remove unregisters a namespace and returns its info.
func (r *registry) remove(id ID) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.namespaces[id]
	if !ok {
		return Info{}, false
	}
	delete(r.namespaces, id)
	delete(r.byPid, info.Config.Pid)
	return info, true
}

func (r *registry) get(id ID) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.namespaces[id]
	if !ok {
		return Info{}, false
	}
	return info.clone(), true
}

func (r *registry) exists(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.namespaces[id]
	return ok
}

func (r *registry) byPidLookup(pid uint32) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPid[pid]
	if !ok {
		return Info{}, false
	}
	info, ok := r.namespaces[id]
	if !ok {
		return Info{}, false
	}
	return info.clone(), true
}

// list returns active namespaces sorted by ID for deterministic
// output.
func (r *registry) list() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.namespaces))
	for _, info := range r.namespaces {
		infos = append(infos, info.clone())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Config.ID < infos[j].Config.ID
	})
	return infos
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.namespaces)
}
