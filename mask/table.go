package mask

import (
	"fmt"
	"sort"
	"sync"
)

// IssueSeverity classifies a consistency issue.
type IssueSeverity int

const (
	SeverityWarning IssueSeverity = iota
	SeverityError
)

func (s IssueSeverity) String() string {
	switch s {
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	}
	return "Unknown"
}

// Issue is one non-fatal finding from Table.ValidateConsistency.
type Issue struct {
	Severity IssueSeverity
	StreamID string
	Detail   string
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s: %s", i.Severity, i.StreamID, i.Detail)
}

// TableStats summarizes table contents.
type TableStats struct {
	Entries  int
	Streams  int
	ByOpType map[string]int
}

// Table owns all redaction rules, indexed per stream and kept sorted by
// SeqStart so lookups can stop scanning early. Entries are immutable after
// insertion; the table is read-only during a masking run.
type Table struct {
	mu      sync.RWMutex
	streams map[string][]*Entry
}

// NewTable creates an empty redaction table.
func NewTable() *Table {
	return &Table{streams: make(map[string][]*Entry)}
}

// AddEntry validates and inserts a rule, keeping the stream's entry list
// sorted by SeqStart. Insertion is O(log n) search plus slice insert;
// duplicate/overlap checks are deferred to ValidateConsistency.
func (t *Table) AddEntry(e *Entry) error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}
	if e.StreamID == "" || e.SeqStart >= e.SeqEnd || e.Op == nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, e)
	}
	if err := e.Op.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entries := t.streams[e.StreamID]
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].SeqStart > e.SeqStart
	})
	entries = append(entries, nil)
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	t.streams[e.StreamID] = entries
	return nil
}

// FindMatches returns all entries of the stream whose interval covers seq,
// in ascending SeqStart order. The scan stops at the first entry whose
// SeqStart exceeds seq (the list is sorted).
func (t *Table) FindMatches(streamID string, seq uint32) []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var matches []*Entry
	for _, e := range t.streams[streamID] {
		if e.SeqStart > seq {
			break
		}
		if e.Covers(seq) {
			matches = append(matches, e)
		}
	}
	return matches
}

// FindRangeOverlaps returns all entries of the stream whose interval
// intersects [start, end). Used for auditing and verification.
func (t *Table) FindRangeOverlaps(streamID string, start, end uint32) []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var matches []*Entry
	for _, e := range t.streams[streamID] {
		if e.SeqStart >= end {
			break
		}
		if e.Overlaps(start, end) {
			matches = append(matches, e)
		}
	}
	return matches
}

// ValidateConsistency scans the whole table and reports duplicate
// (stream, start, end) triples as errors and overlapping intervals within
// one stream as warnings. Overlaps are legitimate (rule order encodes
// override precedence) but worth surfacing.
func (t *Table) ValidateConsistency() []Issue {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var issues []Issue
	for streamID, entries := range t.streams {
		if len(entries) == 0 {
			continue
		}

		// Entries sharing a SeqStart are adjacent, but their SeqEnd order
		// within the group is not guaranteed, so duplicates are checked
		// across the whole equal-SeqStart group.
		for i := 0; i < len(entries); {
			j := i + 1
			for j < len(entries) && entries[j].SeqStart == entries[i].SeqStart {
				j++
			}
			for a := i; a < j; a++ {
				for b := a + 1; b < j; b++ {
					if entries[a].SeqEnd == entries[b].SeqEnd {
						issues = append(issues, Issue{
							Severity: SeverityError,
							StreamID: streamID,
							Detail:   fmt.Sprintf("duplicate interval [%d, %d)", entries[a].SeqStart, entries[a].SeqEnd),
						})
					}
				}
			}
			i = j
		}

		// Overlaps are checked against the furthest-reaching earlier
		// interval, so an entry sandwiched between two others still warns.
		// Exact duplicates of that interval already surfaced as errors.
		maxStart, maxEnd := entries[0].SeqStart, entries[0].SeqEnd
		for i := 1; i < len(entries); i++ {
			cur := entries[i]
			if cur.SeqStart < maxEnd && (cur.SeqStart != maxStart || cur.SeqEnd != maxEnd) {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					StreamID: streamID,
					Detail: fmt.Sprintf("overlapping intervals [%d, %d) and [%d, %d)",
						maxStart, maxEnd, cur.SeqStart, cur.SeqEnd),
				})
			}
			if cur.SeqEnd > maxEnd {
				maxStart, maxEnd = cur.SeqStart, cur.SeqEnd
			}
		}
	}
	return issues
}

// RemoveStream drops all entries of one stream. Returns the number removed.
func (t *Table) RemoveStream(streamID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.streams[streamID])
	delete(t.streams, streamID)
	return n
}

// Clear removes all entries.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streams = make(map[string][]*Entry)
}

// Len returns the total number of entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, entries := range t.streams {
		n += len(entries)
	}
	return n
}

// StreamCount returns the number of streams with at least one entry.
func (t *Table) StreamCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.streams)
}

// StreamIDs returns the stream keys present in the table, sorted.
func (t *Table) StreamIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.streams))
	for id := range t.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns summary counters over the table contents.
func (t *Table) Stats() TableStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := TableStats{
		Streams:  len(t.streams),
		ByOpType: make(map[string]int),
	}
	for _, entries := range t.streams {
		stats.Entries += len(entries)
		for _, e := range entries {
			stats.ByOpType[e.Op.Name()]++
		}
	}
	return stats
}
