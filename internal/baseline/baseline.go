// Package baseline implements the Per-User Baseline Registry (C3): a
// sharded map of (user_id, activity_level, parameter) to a running
// mean/variance cell, updated online with Welford's algorithm so no
// sample history needs to be retained.
//
// Grounded on wisefido-data/internal/repository/memory_tenants.go's
// mutex-guarded map, generalized to N buckets, each with its own
// sync.Mutex, to keep per-user updates from serializing on one global
// lock.
package baseline

import (
	"hash/fnv"
	"sync"

	"vitalguard/internal/model"
)

const shardCount = 16

type key struct {
	userID        string
	activityLevel model.ActivityLevel
	parameter     model.Parameter
}

type shard struct {
	mu    sync.Mutex
	cells map[key]model.BaselineCell
}

// Registry is a concurrency-safe store of baseline cells.
type Registry struct {
	shards [shardCount]*shard
}

// New constructs an empty Registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{cells: make(map[key]model.BaselineCell)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%uint32(shardCount)]
}

// Update folds value into the cell for (userID, level, parameter)
// using Welford's online algorithm, and returns the post-update cell.
func (r *Registry) Update(userID string, level model.ActivityLevel, parameter model.Parameter, value float64) model.BaselineCell {
	s := r.shardFor(userID)
	k := key{userID, level, parameter}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cells[k]
	c.Count++
	delta := value - c.Mean
	c.Mean += delta / float64(c.Count)
	delta2 := value - c.Mean
	c.M2 += delta * delta2
	s.cells[k] = c
	return c
}

// Get returns the current cell for (userID, level, parameter) and
// whether it has ever been observed.
func (r *Registry) Get(userID string, level model.ActivityLevel, parameter model.Parameter) (model.BaselineCell, bool) {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cells[key{userID, level, parameter}]
	return c, ok
}

// UserStats is a snapshot of every (activity_level, parameter) cell
// for one user, keyed by "<activity_level>/<parameter>" for easy
// JSON serialization.
type UserStats map[string]model.BaselineCell

// Stats returns a snapshot of every cell currently recorded for userID.
func (r *Registry) Stats(userID string) UserStats {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(UserStats)
	for k, c := range s.cells {
		if k.userID != userID {
			continue
		}
		out[string(k.activityLevel)+"/"+string(k.parameter)] = c
	}
	return out
}

// Reset clears every cell recorded for userID.
func (r *Registry) Reset(userID string) {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.cells {
		if k.userID == userID {
			delete(s.cells, k)
		}
	}
}
