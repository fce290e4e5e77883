package transport

import (
	"errors"
	"sync"
)

// ErrTokenInUse is returned by Registry.Insert when the token is already
// bound to a live channel. Correct callers collision-check before inserting,
// so hitting this error is an invariant violation rather than a client fault.
var ErrTokenInUse = errors.New("session token already in use")

// Registry is a concurrent-safe table mapping session tokens to their owning
// duplex channels. Entries are inserted only as a side effect of channel
// activation and removed only when the channel closes. One registry exists
// per endpoint group; registries share no state.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

// Lookup resolves a token to its channel.
func (r *Registry) Lookup(token string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[token]
	return ch, ok
}

// Insert binds a token to a channel. Exactly one channel may own a token at a
// time; inserting over a live entry fails with ErrTokenInUse and leaves the
// existing entry untouched.
func (r *Registry) Insert(token string, ch *Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.channels[token]; exists {
		return ErrTokenInUse
	}
	r.channels[token] = ch
	return nil
}

// Remove deletes the token's entry. Removing an absent token is a no-op.
func (r *Registry) Remove(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, token)
}

// Drain empties the registry and returns the channels it held. Used at
// shutdown: every drained channel still gets closed, and its close hook's
// Remove becomes a no-op. The returned slice is safe to iterate without
// holding any registry lock.
func (r *Registry) Drain() []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	r.channels = make(map[string]*Channel)
	return out
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
