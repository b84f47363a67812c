// Package mask implements the sequence-addressed redaction table and the
// masking algorithm that rewrites TCP payload bytes according to it.
package mask

import (
	"errors"
	"fmt"
)

// ErrInvalidEntry is returned when a redaction rule fails validation.
var ErrInvalidEntry = errors.New("invalid mask entry")

// ByteRange is a byte span relative to a payload's own start.
type ByteRange struct {
	Offset uint32 `json:"offset"`
	Length uint32 `json:"length"`
}

// Op is one masking operation. Implementations mutate buf in place and
// return the number of bytes rewritten.
type Op interface {
	// Name identifies the operation kind for statistics and logging.
	Name() string

	apply(buf []byte, maskByte byte) (int, error)
	validate() error
}

// KeepAll preserves the payload untouched. Used to pin a region as
// explicitly kept, e.g. handshake records.
type KeepAll struct{}

// Name implements Op.
func (KeepAll) Name() string { return "keep_all" }

func (KeepAll) apply(buf []byte, maskByte byte) (int, error) { return 0, nil }

func (KeepAll) validate() error { return nil }

// MaskAfter preserves the first KeepBytes bytes and rewrites the rest.
type MaskAfter struct {
	KeepBytes uint32
}

// Name implements Op.
func (MaskAfter) Name() string { return "mask_after" }

func (m MaskAfter) apply(buf []byte, maskByte byte) (int, error) {
	// Compare in uint64: KeepBytes near the uint32 ceiling must not wrap
	// into a negative int on 32-bit platforms.
	if uint64(m.KeepBytes) >= uint64(len(buf)) {
		return 0, nil
	}
	keep := int(m.KeepBytes)
	for i := keep; i < len(buf); i++ {
		buf[i] = maskByte
	}
	return len(buf) - keep, nil
}

func (MaskAfter) validate() error { return nil }

// MaskRange rewrites each payload-relative byte range. Ranges are clipped
// to the payload; a range fully outside the payload is skipped.
type MaskRange struct {
	Ranges []ByteRange
}

// Name implements Op.
func (MaskRange) Name() string { return "mask_range" }

func (m MaskRange) apply(buf []byte, maskByte byte) (int, error) {
	masked := 0
	for _, r := range m.Ranges {
		if uint64(r.Offset) >= uint64(len(buf)) {
			continue
		}
		start := int(r.Offset)
		end64 := uint64(r.Offset) + uint64(r.Length)
		if end64 > uint64(len(buf)) {
			end64 = uint64(len(buf))
		}
		end := int(end64)
		for i := start; i < end; i++ {
			buf[i] = maskByte
		}
		masked += end - start
	}
	return masked, nil
}

func (m MaskRange) validate() error {
	if len(m.Ranges) == 0 {
		return fmt.Errorf("mask_range requires at least one byte range")
	}
	for i, r := range m.Ranges {
		if r.Length == 0 {
			return fmt.Errorf("mask_range range %d has zero length", i)
		}
	}
	return nil
}

// Entry is one redaction rule: an operation bound to a half-open
// [SeqStart, SeqEnd) interval of one directional TCP stream.
type Entry struct {
	StreamID string
	SeqStart uint32
	SeqEnd   uint32
	Op       Op
}

// NewEntry validates and builds a redaction rule. Validation happens here,
// never during application: a constructed Entry is always applicable.
func NewEntry(streamID string, seqStart, seqEnd uint32, op Op) (*Entry, error) {
	if streamID == "" {
		return nil, fmt.Errorf("%w: empty stream ID", ErrInvalidEntry)
	}
	if seqStart >= seqEnd {
		return nil, fmt.Errorf("%w: interval [%d, %d) is not positive", ErrInvalidEntry, seqStart, seqEnd)
	}
	if op == nil {
		return nil, fmt.Errorf("%w: missing operation", ErrInvalidEntry)
	}
	if err := op.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &Entry{StreamID: streamID, SeqStart: seqStart, SeqEnd: seqEnd, Op: op}, nil
}

// Covers reports whether seq falls inside the entry's interval.
func (e *Entry) Covers(seq uint32) bool {
	return e.SeqStart <= seq && seq < e.SeqEnd
}

// Overlaps reports whether the entry's interval intersects [start, end).
func (e *Entry) Overlaps(start, end uint32) bool {
	return e.SeqStart < end && start < e.SeqEnd
}

// OverlapLength returns the exact intersection length of the entry's
// interval with [start, end). Zero for disjoint or touching intervals.
func (e *Entry) OverlapLength(start, end uint32) uint32 {
	lo := e.SeqStart
	if start > lo {
		lo = start
	}
	hi := e.SeqEnd
	if end < hi {
		hi = end
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// Apply runs the entry's operation against buf, rewriting masked bytes to
// maskByte. Returns the number of bytes rewritten.
func (e *Entry) Apply(buf []byte, maskByte byte) (int, error) {
	return e.Op.apply(buf, maskByte)
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s [%d, %d) %s", e.StreamID, e.SeqStart, e.SeqEnd, e.Op.Name())
}
