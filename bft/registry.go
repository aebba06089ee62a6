package bft

import (
	"sync/atomic"

	"github.com/canopy-network/metanode/lib"
)

// ValidatorRegistry holds the validator set of the current height and at most one replacement staged for the next
// height boundary. Both are swapped by pointer so concurrent readers never observe a half-updated set
type ValidatorRegistry struct {
	current       atomic.Pointer[lib.ValidatorSet]
	staged        atomic.Pointer[lib.ValidatorSet]
	minValidators int
}

// NewValidatorRegistry() creates a registry starting from the genesis set
func NewValidatorRegistry(genesis *lib.ValidatorSet, minValidators int) (*ValidatorRegistry, lib.ErrorI) {
	r := &ValidatorRegistry{minValidators: minValidators}
	if err := r.check(genesis); err != nil {
		return nil, err
	}
	r.current.Store(genesis)
	return r, nil
}

// CurrentSet() is the set deciding the current height
func (r *ValidatorRegistry) CurrentSet() *lib.ValidatorSet { return r.current.Load() }

// NextSet() is the set that will decide the next height: the staged set if any, else the current one
func (r *ValidatorRegistry) NextSet() *lib.ValidatorSet {
	if staged := r.staged.Load(); staged != nil {
		return staged
	}
	return r.current.Load()
}

// QuorumThreshold() is 2f+1 of the current set
func (r *ValidatorRegistry) QuorumThreshold() int { return r.current.Load().QuorumThreshold() }

// ApplySetChange() stages a replacement set, effective at the next height boundary. A later call before the boundary
// replaces the earlier one
func (r *ValidatorRegistry) ApplySetChange(set *lib.ValidatorSet) lib.ErrorI {
	if err := r.check(set); err != nil {
		return err
	}
	r.staged.Store(set)
	return nil
}

// AdvanceHeight() swaps in the staged set, if any, and reports whether the set changed
func (r *ValidatorRegistry) AdvanceHeight() bool {
	staged := r.staged.Swap(nil)
	if staged == nil {
		return false
	}
	r.current.Store(staged)
	return true
}

func (r *ValidatorRegistry) check(set *lib.ValidatorSet) lib.ErrorI {
	if set == nil {
		return lib.ErrValidatorSetTooSmall(0, r.minValidators)
	}
	if set.Size() < r.minValidators {
		return lib.ErrValidatorSetTooSmall(set.Size(), r.minValidators)
	}
	return nil
}
