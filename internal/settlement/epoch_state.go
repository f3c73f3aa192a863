package settlement

import (
	"CoverLedger/internal/ledger"
	"CoverLedger/internal/state"
	"fmt"
)

// Update kinds tracked for at-most-once-per-epoch semantics.
const (
	kindBuyer            = "buyer"
	kindSeller           = "seller"
	kindSellerPremium    = "seller_premium"
	kindGuarantorPremium = "guarantor_premium"
	kindSellerBonus      = "seller_bonus"
	kindGuarantorBonus   = "guarantor_bonus"
	kindCategory         = "category"
)

// Assets names the ledger assets settlement moves.
type Assets struct {
	Base   ledger.AssetID // premiums and collateral
	Reward ledger.AssetID // bonus token
}

// ResolveAssets looks up the asset ids for the given names.
func ResolveAssets(base, reward string) (Assets, error) {
	b, ok := ledger.GetAssetID(base)
	if !ok {
		return Assets{}, fmt.Errorf("unknown base asset %q", base)
	}
	r, ok := ledger.GetAssetID(reward)
	if !ok {
		return Assets{}, fmt.Errorf("unknown reward asset %q", reward)
	}
	if b == r {
		return Assets{}, fmt.Errorf("base and reward asset must differ, both %q", base)
	}
	return Assets{Base: b, Reward: r}, nil
}

// EpochState owns the current snapshot and the per-epoch update marks. It
// is shared by every ledger so they agree on what "current epoch" means.
type EpochState struct {
	clock    state.EpochClock
	snapshot *EpochExposureSnapshot
	updates  *state.UpdateTracker
}

func NewEpochState(clock state.EpochClock) *EpochState {
	return &EpochState{
		clock:   clock,
		updates: state.NewUpdateTracker(),
	}
}

// Current returns the snapshot for the epoch containing now, or
// ErrStaleSnapshot if BeforeUpdate has not run for it.
func (es *EpochState) Current(now int64) (*EpochExposureSnapshot, error) {
	epoch := es.clock.EpochAt(now)
	if es.snapshot == nil {
		return nil, fmt.Errorf("%w: no snapshot for epoch %d", ErrStaleSnapshot, epoch)
	}
	if es.snapshot.Epoch != epoch {
		return nil, fmt.Errorf("%w: snapshot is for epoch %d, now is epoch %d", ErrStaleSnapshot, es.snapshot.Epoch, epoch)
	}
	return es.snapshot, nil
}

// Snapshot returns the latest snapshot regardless of epoch (may be nil).
func (es *EpochState) Snapshot() *EpochExposureSnapshot {
	return es.snapshot
}

func (es *EpochState) Clock() state.EpochClock {
	return es.clock
}

// install replaces the current snapshot. Only BeforeUpdate calls this.
func (es *EpochState) install(snap *EpochExposureSnapshot) {
	es.snapshot = snap
}

// Updates exposes the per-epoch update marks (for state export).
func (es *EpochState) Updates() *state.UpdateTracker {
	return es.updates
}

func (es *EpochState) done(kind, key string, epoch int64) bool {
	return es.updates.Done(kind, key, epoch)
}

func (es *EpochState) mark(kind, key string, epoch int64) {
	es.updates.Mark(kind, key, epoch)
}

func categoryKey(cat state.CategoryID) string {
	return fmt.Sprintf("%d", cat)
}
