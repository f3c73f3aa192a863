package server

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/query"
	"context"
	"time"
)

// LiveEpoch is the exposure snapshot currently in force in the core.
type LiveEpoch struct {
	ClockEpoch    int64                    `json:"clock_epoch"`    // epoch of the wall clock
	SnapshotEpoch *int64                   `json:"snapshot_epoch"` // nil before the first BeforeUpdate
	Stale         bool                     `json:"stale"`          // snapshot older than the clock epoch
	Sequence      int64                    `json:"sequence"`       // last applied command
	Categories    []query.CategoryExposure `json:"categories"`
}

// RunnerLiveReader reads the live epoch through the core's runner.
type RunnerLiveReader struct {
	runner *core.Runner
	now    func() time.Time
}

func NewRunnerLiveReader(runner *core.Runner) *RunnerLiveReader {
	return &RunnerLiveReader{runner: runner, now: time.Now}
}

func (l *RunnerLiveReader) CurrentEpoch(ctx context.Context) (*LiveEpoch, error) {
	var out *LiveEpoch
	err := l.runner.Read(ctx, func(c *core.DeterministicCore) {
		out = LiveEpochOf(c, l.now())
	})
	return out, err
}

// LiveEpochOf builds the live view. Must run on the core goroutine.
func LiveEpochOf(c *core.DeterministicCore, now time.Time) *LiveEpoch {
	epochs := c.Coordinator().Epochs()
	res := &LiveEpoch{
		ClockEpoch: epochs.Clock().EpochAt(now.UnixMicro()),
		Sequence:   c.GetSequence() - 1,
	}

	snap := epochs.Snapshot()
	if snap == nil {
		res.Stale = true
		return res
	}
	epoch := snap.Epoch
	res.SnapshotEpoch = &epoch
	res.Stale = snap.Epoch < res.ClockEpoch

	for _, id := range snap.CategoryIDs() {
		exp := snap.Categories[id]
		res.Categories = append(res.Categories, query.CategoryExposure{
			CategoryID:         uint32(id),
			HasGuarantor:       exp.HasGuarantor,
			PremiumRate:        exp.PremiumRate,
			PremiumRatePercent: query.FormatRatePercent(exp.PremiumRate),
			TotalRequested:     exp.TotalRequestedCoverage,
			SellerAllocated:    exp.SellerAllocatedCollateral,
			GuarantorAllocated: exp.GuarantorAllocatedCollateral,
			EffectiveCovered:   exp.EffectiveCoveredAmount,
		})
	}
	return res
}
