package permission

import (
	"errors"
	"sync"
)

// TierSet holds the compiled feature mask of every subscription tier.
type TierSet struct {
	registry *Registry

	mu     sync.RWMutex
	tiers  map[string]Mask64
	frozen bool
}

// NewTierSet binds a TierSet to a frozen registry.
func NewTierSet(registry *Registry) (*TierSet, error) {
	if registry == nil || !registry.Frozen() {
		return nil, errors.New("tier set requires a frozen registry")
	}
	return &TierSet{
		registry: registry,
		tiers:    make(map[string]Mask64),
	}, nil
}

// RegisterTier compiles features into the tier's mask.
func (ts *TierSet) RegisterTier(tier string, features []string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.frozen {
		return errors.New("tier set frozen")
	}
	if tier == "" {
		return errors.New("tier name empty")
	}
	if _, exists := ts.tiers[tier]; exists {
		return errors.New("tier already registered")
	}

	var m Mask64
	for _, f := range features {
		bit, ok := ts.registry.Bit(f)
		if !ok {
			return errors.New("feature not registered: " + f)
		}
		m.Set(bit)
	}

	ts.tiers[tier] = m
	return nil
}

// Mask returns the compiled mask for tier.
func (ts *TierSet) Mask(tier string) (Mask64, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	m, ok := ts.tiers[tier]
	return m, ok
}

// Allows reports whether tier includes feature. Unknown tiers and features
// are denied.
func (ts *TierSet) Allows(tier, feature string) bool {
	m, ok := ts.Mask(tier)
	if !ok {
		return false
	}
	bit, ok := ts.registry.Bit(feature)
	if !ok {
		return false
	}
	return m.Has(bit)
}

func (ts *TierSet) Freeze() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.frozen = true
}

// Count returns the number of registered tiers.
func (ts *TierSet) Count() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.tiers)
}
