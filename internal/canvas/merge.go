package canvas

import (
	"sort"
)

// Merge concatenates snapshot and pending, keeps the first occurrence of each
// id and stable-sorts the result by numeric timestamp. Events whose timestamp
// does not parse sort first; they cannot enter the log through Validate.
func Merge(snapshot, pending []DrawEvent) []DrawEvent {
	seen := make(map[string]struct{}, len(snapshot)+len(pending))
	merged := make([]keyed, 0, len(snapshot)+len(pending))

	for _, src := range [][]DrawEvent{snapshot, pending} {
		for _, e := range src {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			ms, _ := e.Millis()
			merged = append(merged, keyed{ms: ms, event: e})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].ms < merged[j].ms
	})

	out := make([]DrawEvent, len(merged))
	for i, k := range merged {
		out[i] = k.event
	}
	return out
}

// Before returns the events whose timestamp is strictly earlier than cutoff.
func Before(events []DrawEvent, cutoffMillis int64) []DrawEvent {
	out := make([]DrawEvent, 0, len(events))
	for _, e := range events {
		ms, err := e.Millis()
		if err != nil {
			continue
		}
		if ms < cutoffMillis {
			out = append(out, e)
		}
	}
	return out
}

// SortPending orders events from an unordered source (a Redis hash) by
// timestamp, then id, so later stable sorts are reproducible.
func SortPending(events []DrawEvent) {
	sort.Slice(events, func(i, j int) bool {
		mi, _ := events[i].Millis()
		mj, _ := events[j].Millis()
		if mi != mj {
			return mi < mj
		}
		return events[i].ID < events[j].ID
	})
}

type keyed struct {
	ms    int64
	event DrawEvent
}
