package memstore

import "sort"

// rangeSet is a sorted, non-overlapping, non-adjacent set of half-open
// [lo,hi) ranges, kept merged on every insert. Lookups use binary
// search over the sorted starts so a single insert or overlap check
// runs in O(log n + k) where k is the number of touched ranges, not
// O(n) over every placement.
type rangeSet struct {
	ranges []byteRange
}

// firstIndexMayOverlap returns the index of the first range whose Hi is
// greater than lo — the first range that could possibly overlap [lo, hi).
// A range ending exactly at lo is not included.
func (rs *rangeSet) firstIndexMayOverlap(lo uint64) int {
	return sort.Search(len(rs.ranges), func(i int) bool {
		return rs.ranges[i].Hi > lo
	})
}

// overlaps reports whether [lo,hi) intersects any range already in the set.
func (rs *rangeSet) overlaps(lo, hi uint64) bool {
	i := rs.firstIndexMayOverlap(lo)
	return i < len(rs.ranges) && rs.ranges[i].Lo < hi
}

// firstOverlapEnd returns the Hi bound of the first range intersecting
// [lo,hi), and whether one exists — used by the bump allocator to step
// its cursor past an occupied stretch.
func (rs *rangeSet) firstOverlapEnd(lo, hi uint64) (uint64, bool) {
	i := rs.firstIndexMayOverlap(lo)
	if i < len(rs.ranges) && rs.ranges[i].Lo < hi {
		return rs.ranges[i].Hi, true
	}
	return 0, false
}

// insert adds [lo,hi) to the set, merging with any adjacent or
// overlapping ranges.
func (rs *rangeSet) insert(lo, hi uint64) {
	i := rs.firstIndexMayOverlap(lo)
	if i > 0 && rs.ranges[i-1].Hi == lo {
		i-- // a range ending exactly at lo abuts [lo,hi) and merges too
	}
	j := i
	for j < len(rs.ranges) && rs.ranges[j].Lo <= hi {
		if rs.ranges[j].Lo < lo {
			lo = rs.ranges[j].Lo
		}
		if rs.ranges[j].Hi > hi {
			hi = rs.ranges[j].Hi
		}
		j++
	}
	merged := byteRange{Lo: lo, Hi: hi}
	rs.ranges = append(rs.ranges[:i], append([]byteRange{merged}, rs.ranges[j:]...)...)
}

// gapsIn returns the free sub-ranges of [segLo, segHi) not covered by
// any range in the set.
func (rs *rangeSet) gapsIn(segLo, segHi uint64) []byteRange {
	var gaps []byteRange
	cursor := segLo
	i := rs.firstIndexMayOverlap(segLo)
	for ; i < len(rs.ranges); i++ {
		r := rs.ranges[i]
		if r.Lo >= segHi {
			break
		}
		lo, hi := r.Lo, r.Hi
		if lo < segLo {
			lo = segLo
		}
		if hi > segHi {
			hi = segHi
		}
		if lo > cursor {
			gaps = append(gaps, byteRange{Lo: cursor, Hi: lo})
		}
		if hi > cursor {
			cursor = hi
		}
	}
	if cursor < segHi {
		gaps = append(gaps, byteRange{Lo: cursor, Hi: segHi})
	}
	return gaps
}
