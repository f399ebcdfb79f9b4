// Package feed keeps a bounded, in-memory log of inbound chat messages.
package feed

import "sync"

// Default bounds.
const (
	DefaultSoftCap = 1500
	DefaultRetain  = 1000
)

type message struct {
	identity string
	text     string
}

// Feed is safe for concurrent use. Readers never observe a partially evicted log.
type Feed struct {
	mu      sync.RWMutex
	entries []message
	softCap int
	retain  int
}

// New constructs a feed. When the log grows past softCap, only the newest retain entries are kept.
// Non-positive or inconsistent bounds fall back to the defaults.
func New(softCap, retain int) *Feed {
	if softCap <= 0 {
		softCap = DefaultSoftCap
	}
	if retain <= 0 || retain > softCap {
		retain = min(DefaultRetain, softCap)
	}
	return &Feed{
		entries: make([]message, 0, softCap+1),
		softCap: softCap,
		retain:  retain,
	}
}

// Push appends a message from identity.
func (f *Feed) Push(identity, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries = append(f.entries, message{identity: identity, text: text})
	if len(f.entries) <= f.softCap {
		return
	}
	// evict in one batch; copy so the old backing array can be released
	kept := make([]message, f.retain, f.softCap+1)
	copy(kept, f.entries[len(f.entries)-f.retain:])
	f.entries = kept
}

// FindIdentityByText returns the sender of the most recent message equal to text.
func (f *Feed) FindIdentityByText(text string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].text == text {
			return f.entries[i].identity, true
		}
	}
	return "", false
}

// Len reports the number of retained messages.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}
