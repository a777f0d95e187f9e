package permission

import (
	"errors"
	"sync"
)

// MaxFeatures is the number of distinct features a Registry can hold.
const MaxFeatures = 64

// Registry maps feature names to bit positions within a Mask64.
type Registry struct {
	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry creates an empty feature [Registry].
func NewRegistry() *Registry {
	return &Registry{
		nameToBit: make(map[string]int),
		bitToName: make(map[int]string),
	}
}

// NewFrozenRegistry registers names in order and freezes the result.
func NewFrozenRegistry(names ...string) (*Registry, error) {
	r := NewRegistry()
	for _, n := range names {
		if _, err := r.Register(n); err != nil {
			return nil, err
		}
	}
	r.Freeze()
	return r, nil
}

// Register assigns the next available bit to the named feature.
// Returns the assigned bit index. Must be called before [Registry.Freeze].
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("registry frozen")
	}

	if name == "" {
		return -1, errors.New("feature name cannot be empty")
	}

	if _, exists := r.nameToBit[name]; exists {
		return -1, errors.New("feature already registered")
	}

	nextBit := len(r.nameToBit)
	if nextBit >= MaxFeatures {
		return -1, errors.New("feature limit exceeded")
	}

	r.nameToBit[name] = nextBit
	r.bitToName[nextBit] = name

	return nextBit, nil
}

// Bit returns the bit index for the named feature, or false if not registered.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the feature name for the given bit index, or false if unassigned.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Count returns the number of registered features.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}

// Names expands m into feature names in bit order.
func (r *Registry) Names(m Mask64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, m.Count())
	for bit := 0; bit < len(r.bitToName); bit++ {
		if m.Has(bit) {
			out = append(out, r.bitToName[bit])
		}
	}
	return out
}
