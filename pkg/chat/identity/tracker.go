// Package identity decides whether a message identifier has already been
// materialized in the transcript, across the three delivery sources
// (history fetch, REST acknowledgement, push delivery).
package identity

import (
	"strings"

	"github.com/patrickmn/go-cache"
)

// Tracker keeps two disjoint sets of case-folded identifiers: ids rendered
// from history, and ids materialized from a live or outbound source.
// It knows nothing about ledger partitions; it is a pure ownership oracle.
//
// Like the rest of the engine it is confined to the session dispatch
// goroutine; the backing cache's own locking is incidental.
type Tracker struct {
	history  *cache.Cache
	received *cache.Cache
}

func NewTracker() *Tracker {
	return &Tracker{
		history:  cache.New(cache.NoExpiration, 0),
		received: cache.New(cache.NoExpiration, 0),
	}
}

func fold(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// RegisterReceived records id as materialized from a live or outbound source.
func (t *Tracker) RegisterReceived(id string) {
	if id == "" {
		return
	}
	t.received.Set(fold(id), struct{}{}, cache.NoExpiration)
}

// HasReceived reports whether id was already materialized outside history.
func (t *Tracker) HasReceived(id string) bool {
	_, found := t.received.Get(fold(id))
	return found
}

// InHistory reports whether id was rendered from the last adopted history.
func (t *Tracker) InHistory(id string) bool {
	_, found := t.history.Get(fold(id))
	return found
}

// AdoptHistory replaces the history set with ids. History authoritatively
// supersedes anything provisionally inserted before it, so every adopted id
// is dropped from the received set, restoring the disjointness invariant.
func (t *Tracker) AdoptHistory(ids []string) {
	t.history.Flush()
	for _, id := range ids {
		if id == "" {
			continue
		}
		key := fold(id)
		t.history.Set(key, struct{}{}, cache.NoExpiration)
		t.received.Delete(key)
	}
}

// Reset clears both sets. Called on session teardown.
func (t *Tracker) Reset() {
	t.history.Flush()
	t.received.Flush()
}
