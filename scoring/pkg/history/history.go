// Package history keeps the per-author rolling aggregate the scoring
// engine folds each new post score into. State is in-memory; the durable
// per-author totals live in the persistent store and are written by the
// orchestrator, not by this package.
package history

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Entry is one author's rolling aggregate.
type Entry struct {
	PostCount       int
	CumulativeScore float64
	AverageScore    float64
	LastPostAt      time.Time // zero when the author has never posted
}

// HasPosted reports whether the author has at least one scored post.
func (e Entry) HasPosted() bool {
	return e.PostCount > 0
}

type authorState struct {
	mu    sync.Mutex
	entry Entry
}

// Store holds author aggregates keyed by author identifier. Updates to one
// author are serialized through a per-author mutex; distinct authors
// proceed independently on the sharded map.
type Store struct {
	authors *xsync.Map[string, *authorState]
}

func NewStore() *Store {
	return &Store{authors: xsync.NewMap[string, *authorState]()}
}

// Get returns a copy of the author's entry, zero-valued for unknown authors.
func (s *Store) Get(authorID string) Entry {
	state, ok := s.authors.Load(authorID)
	if !ok {
		return Entry{}
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.entry
}

// Apply scores one post against the author's prior entry and folds the
// result in, all under the author's lock. The score callback receives the
// entry as it stood before this post, so concurrent posts by the same author
// are evaluated strictly in sequence and each one sees its true predecessor;
// the average is always recomputed from the cumulative score and count.
func (s *Store) Apply(authorID string, postedAt time.Time, score func(prior Entry) float64) Entry {
	state, _ := s.authors.LoadOrStore(authorID, &authorState{})
	state.mu.Lock()
	defer state.mu.Unlock()

	totalScore := score(state.entry)

	state.entry.PostCount++
	state.entry.CumulativeScore += totalScore
	state.entry.AverageScore = state.entry.CumulativeScore / float64(state.entry.PostCount)
	state.entry.LastPostAt = postedAt
	return state.entry
}

// Record folds an already-computed score into the author's aggregate and
// returns the updated entry.
func (s *Store) Record(authorID string, totalScore float64, postedAt time.Time) Entry {
	return s.Apply(authorID, postedAt, func(Entry) float64 { return totalScore })
}

// Seed replaces the author's entry wholesale. Used to warm the store from
// the persistent totals at startup.
func (s *Store) Seed(authorID string, entry Entry) {
	state, _ := s.authors.LoadOrStore(authorID, &authorState{})
	state.mu.Lock()
	defer state.mu.Unlock()
	state.entry = entry
}

// Reset drops all entries. Test use only.
func (s *Store) Reset() {
	s.authors.Clear()
}

// Size returns the number of tracked authors.
func (s *Store) Size() int {
	return s.authors.Size()
}
