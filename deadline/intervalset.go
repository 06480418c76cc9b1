package deadline

import "sort"

// Range is a half-open byte interval [Start, End) over a stream's
// offset space.
type Range struct {
	Start uint64
	End   uint64
}

// Len returns the number of bytes covered by the range.
func (r Range) Len() uint64 { return r.End - r.Start }

// IntervalSet is a sparse set of disjoint, non-empty, sorted half-open
// byte intervals. It replaces the reference implementation's SACK
// splay tree with an ordered, auto-merging slice: insert is a single
// binary search plus a bounded absorb-and-splice, which is the
// "balanced ordered-interval container" the component calls for
// without pulling in a tree library nothing else in this repository
// needs.
type IntervalSet struct {
	ranges []Range
}

// NewIntervalSet returns an empty interval set.
func NewIntervalSet() *IntervalSet {
	return &IntervalSet{}
}

// Insert adds [start, end) to the set, merging with any overlapping or
// adjacent existing intervals. A zero-length or inverted range is a no-op.
func (s *IntervalSet) Insert(start, end uint64) {
	if end <= start {
		return
	}

	// lo: first existing range that could possibly merge with [start,end)
	// from the left (its End reaches at least start).
	lo := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End >= start })

	hi := lo
	for hi < len(s.ranges) && s.ranges[hi].Start <= end {
		if s.ranges[hi].Start < start {
			start = s.ranges[hi].Start
		}
		if s.ranges[hi].End > end {
			end = s.ranges[hi].End
		}
		hi++
	}

	merged := Range{Start: start, End: end}
	out := make([]Range, 0, len(s.ranges)-(hi-lo)+1)
	out = append(out, s.ranges[:lo]...)
	out = append(out, merged)
	out = append(out, s.ranges[hi:]...)
	s.ranges = out
}

// Contains reports whether offset falls inside a recorded interval.
func (s *IntervalSet) Contains(offset uint64) bool {
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End > offset })
	return i < len(s.ranges) && s.ranges[i].Start <= offset
}

// FirstOverlap returns the first recorded interval (in ascending Start
// order) that overlaps [a, b), if any.
func (s *IntervalSet) FirstOverlap(a, b uint64) (Range, bool) {
	if b <= a {
		return Range{}, false
	}
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End > a })
	if i < len(s.ranges) && s.ranges[i].Start < b {
		return s.ranges[i], true
	}
	return Range{}, false
}

// Len returns the number of disjoint intervals currently recorded.
func (s *IntervalSet) Len() int { return len(s.ranges) }

// At returns the i'th interval in ascending Start order.
func (s *IntervalSet) At(i int) Range { return s.ranges[i] }

// ForEach iterates the intervals in ascending Start order, stopping
// early if fn returns false.
func (s *IntervalSet) ForEach(fn func(Range) bool) {
	for _, r := range s.ranges {
		if !fn(r) {
			return
		}
	}
}

// TotalBytes sums the length of every recorded interval.
func (s *IntervalSet) TotalBytes() uint64 {
	var total uint64
	for _, r := range s.ranges {
		total += r.Len()
	}
	return total
}
