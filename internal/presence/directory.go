// Package presence keeps the process-wide username to connection mapping and
// signals every change so the relay can push the online list to clients.
package presence

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// ConnID identifies one live connection. It is opaque to the directory.
type ConnID string

// Directory maps usernames to the connection that currently answers for them.
// At most one connection is held per username; a later Register for the same
// name replaces the earlier holder without notifying it.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]ConnID
	changes chan struct{}
}

// NewDirectory returns an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		entries: make(map[string]ConnID),
		changes: make(chan struct{}, 1),
	}
}

// Register binds username to id, overwriting any existing binding.
func (d *Directory) Register(username string, id ConnID) {
	d.mu.Lock()
	d.entries[username] = id
	d.mu.Unlock()

	d.notify()
}

// Lookup returns the connection currently bound to username.
func (d *Directory) Lookup(username string) (ConnID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.entries[username]
	return id, ok
}

// Unregister removes username regardless of which connection holds it.
// It is a no-op when the name is not registered.
func (d *Directory) Unregister(username string) {
	d.mu.Lock()
	_, ok := d.entries[username]
	delete(d.entries, username)
	d.mu.Unlock()

	if ok {
		d.notify()
	}
}

// Release removes username only while id is still its holder, and reports
// whether an entry was removed. A connection that lost its name to a newer
// Register cannot evict the new holder.
func (d *Directory) Release(username string, id ConnID) bool {
	d.mu.Lock()
	current, ok := d.entries[username]
	released := ok && current == id
	if released {
		delete(d.entries, username)
	}
	d.mu.Unlock()

	if released {
		d.notify()
	}
	return released
}

// Touch signals a change without mutating the directory, for callers that
// must announce the current list again.
func (d *Directory) Touch() {
	d.notify()
}

// Snapshot returns the registered usernames in lexical order.
func (d *Directory) Snapshot() []string {
	d.mu.RLock()
	names := lo.Keys(d.entries)
	d.mu.RUnlock()

	slices.Sort(names)
	return names
}

// Len returns the number of registered usernames.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Changes delivers a signal after one or more mutations. Signals coalesce:
// a reader that falls behind sees a single pending signal and should read
// the current state with Snapshot.
func (d *Directory) Changes() <-chan struct{} {
	return d.changes
}

// notify queues a change signal unless one is already pending.
func (d *Directory) notify() {
	select {
	case d.changes <- struct{}{}:
	default:
	}
}
