package availability

import (
	"slices"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// NoCutoff disables the past-start filter of AvailableSlots.
const NoCutoff model.Clock = -1

// MergeWindows collapses windows into the minimal set of disjoint covered
// intervals, ordered by start. Overlapping and adjacent windows are joined.
func MergeWindows(windows []model.AvailabilityWindow) []model.Interval {
	ivs := make([]model.Interval, 0, len(windows))
	for _, w := range windows {
		if iv := w.Interval(); iv.Valid() {
			ivs = append(ivs, iv)
		}
	}
	return Merge(ivs)
}

func Merge(ivs []model.Interval) []model.Interval {
	if len(ivs) == 0 {
		return nil
	}
	sorted := slices.Clone(ivs)
	slices.SortFunc(sorted, func(a, b model.Interval) int {
		if a.Start != b.Start {
			return int(a.Start - b.Start)
		}
		return int(a.End - b.End)
	})

	merged := []model.Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if iv.Start <= last.End {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// AvailableSlots returns slot starts inside covered where a booking of length
// duration fits a single covered interval without overlapping any busy
// interval. Starts at or before cutoff are dropped; pass NoCutoff to keep all.
//
// covered must be disjoint and sorted, as returned by Merge.
func AvailableSlots(covered, busy []model.Interval, duration, step int, cutoff model.Clock) []model.Clock {
	if duration <= 0 || step <= 0 || duration > model.MinutesPerDay || step > model.MinutesPerDay {
		return nil
	}

	var slots []model.Clock
	for _, iv := range covered {
		for t := iv.Start; t.Add(duration) <= iv.End; t = t.Add(step) {
			if t <= cutoff {
				continue
			}
			if !overlapsAny(model.Interval{Start: t, End: t.Add(duration)}, busy) {
				slots = append(slots, t)
			}
		}
	}
	return slots
}

// Fits reports whether iv lies entirely inside one covered interval.
func Fits(covered []model.Interval, iv model.Interval) bool {
	for _, c := range covered {
		if c.Contains(iv) {
			return true
		}
	}
	return false
}

func overlapsAny(iv model.Interval, busy []model.Interval) bool {
	for _, b := range busy {
		if iv.Overlaps(b) {
			return true
		}
	}
	return false
}
