package state

import (
	"fmt"
	"time"
)

// DefaultEpochLength is one week.
const DefaultEpochLength = 7 * 24 * time.Hour

// EpochClock maps versioned timestamps to epoch indexes:
// epoch = floor((ts - genesis) / length).
type EpochClock struct {
	GenesisMicros int64
	LengthMicros  int64
}

func NewEpochClock(genesis time.Time, length time.Duration) (EpochClock, error) {
	if length <= 0 {
		return EpochClock{}, fmt.Errorf("epoch length must be > 0, got %s", length)
	}
	return EpochClock{
		GenesisMicros: genesis.UnixMicro(),
		LengthMicros:  length.Microseconds(),
	}, nil
}

// EpochAt returns the epoch containing tsMicros. Timestamps before genesis
// map to negative epochs.
func (c EpochClock) EpochAt(tsMicros int64) int64 {
	delta := tsMicros - c.GenesisMicros
	epoch := delta / c.LengthMicros
	if delta < 0 && delta%c.LengthMicros != 0 {
		epoch--
	}
	return epoch
}

// EpochStart returns the first microsecond of epoch.
func (c EpochClock) EpochStart(epoch int64) int64 {
	return c.GenesisMicros + epoch*c.LengthMicros
}

// UpdateTracker records the last epoch each (kind, key) update ran in, so
// per-epoch updates happen at most once.
type UpdateTracker struct {
	lastEpoch map[string]int64 // "kind:key" -> epoch
}

func NewUpdateTracker() *UpdateTracker {
	return &UpdateTracker{
		lastEpoch: make(map[string]int64),
	}
}

func trackerKey(kind, key string) string {
	return kind + ":" + key
}

// Done reports whether (kind, key) was already updated in epoch or later.
func (ut *UpdateTracker) Done(kind, key string, epoch int64) bool {
	last, ok := ut.Last(kind, key)
	return ok && last >= epoch
}

// Mark records that (kind, key) was updated in epoch. Callers mark only
// after the update succeeded.
func (ut *UpdateTracker) Mark(kind, key string, epoch int64) {
	ut.lastEpoch[trackerKey(kind, key)] = epoch
}

// Last returns the last epoch (kind, key) was updated in.
func (ut *UpdateTracker) Last(kind, key string) (int64, bool) {
	e, ok := ut.lastEpoch[trackerKey(kind, key)]
	return e, ok
}

// All returns a copy of the tracker state (for snapshot creation)
func (ut *UpdateTracker) All() map[string]int64 {
	out := make(map[string]int64, len(ut.lastEpoch))
	for k, v := range ut.lastEpoch {
		out[k] = v
	}
	return out
}

// Restore directly sets tracker state (used for snapshot restore)
func (ut *UpdateTracker) Restore(entries map[string]int64) {
	for k, v := range entries {
		ut.lastEpoch[k] = v
	}
}
