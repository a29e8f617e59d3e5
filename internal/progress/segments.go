// Package progress derives per-segment display state from a session snapshot.
// Everything here is pure: no I/O, no clocks.
package progress

import (
	"math"
	"sort"
	"strconv"

	"github.com/reelforge/reelforge/internal/client"
)

// NoIndex is the index given to keys without digits. It sorts after every
// real segment.
const NoIndex = math.MaxInt

type State string

const (
	StateDone    State = "done"
	StateCurrent State = "current"
	StatePending State = "pending"
)

type Segment struct {
	Key   string
	Index int
	State State
}

// SegmentIndex parses the first run of decimal digits in key.
func SegmentIndex(key string) int {
	start := -1
	for i := 0; i < len(key); i++ {
		isDigit := key[i] >= '0' && key[i] <= '9'
		if isDigit && start < 0 {
			start = i
		}
		if !isDigit && start >= 0 {
			return parseIndex(key[start:i])
		}
	}
	if start >= 0 {
		return parseIndex(key[start:])
	}
	return NoIndex
}

func parseIndex(digits string) int {
	n, err := strconv.Atoi(digits)
	if err != nil {
		// Overflow: still a real segment, just a very late one.
		return NoIndex - 1
	}
	return n
}

// Order returns keys sorted by SegmentIndex. Ties keep their input order.
func Order(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.SliceStable(out, func(i, j int) bool {
		return SegmentIndex(out[i]) < SegmentIndex(out[j])
	})
	return out
}

// SegmentKeys picks the ordering source: the selected candidate's own
// segments when it is structured, else the segments the server reported.
func SegmentKeys(selected *client.Script, snapshot *client.Session) []string {
	if selected != nil && selected.IsStructured() {
		keys := make([]string, 0, len(selected.Segments()))
		for k := range selected.Segments() {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return Order(keys)
	}
	if snapshot != nil {
		return Order(snapshot.SegmentKeys())
	}
	return nil
}

// Classify maps each key to done, current or pending. A key whose index is
// within completed is done even if it equals current.
func Classify(keys []string, completed int, current string) []Segment {
	out := make([]Segment, len(keys))
	for i, key := range keys {
		idx := SegmentIndex(key)
		state := StatePending
		switch {
		case idx <= completed:
			state = StateDone
		case current != "" && key == current:
			state = StateCurrent
		}
		out[i] = Segment{Key: key, Index: idx, State: state}
	}
	return out
}

// FromSnapshot classifies the segments of snapshot using the ordering rules
// of SegmentKeys.
func FromSnapshot(selected *client.Script, snapshot *client.Session) []Segment {
	if snapshot == nil {
		return Classify(SegmentKeys(selected, nil), 0, "")
	}
	return Classify(SegmentKeys(selected, snapshot), snapshot.Progress.Completed, snapshot.CurrentSegment)
}

type Summary struct {
	Done    int
	Current int
	Pending int
	Total   int
}

// Percent is the done share in [0, 1]. An empty list is 0.
func (s Summary) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Done) / float64(s.Total)
}

func Summarize(segments []Segment) Summary {
	var s Summary
	for _, seg := range segments {
		switch seg.State {
		case StateDone:
			s.Done++
		case StateCurrent:
			s.Current++
		default:
			s.Pending++
		}
	}
	s.Total = len(segments)
	return s
}
