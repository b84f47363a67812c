package mask

import (
	"go.uber.org/zap"
)

// ApplyStats accumulates counters across one masking run. The applier is
// single-threaded per run, so no locking.
type ApplyStats struct {
	PacketsProcessed int
	PacketsModified  int
	BytesMasked      int64
	SeqMatches       int
	SeqMisses        int
	ApplyFailures    int
	ByOpType         map[string]int
}

// Applier executes the redaction table against individual packets. The
// table is read-only for the applier's lifetime.
type Applier struct {
	table    *Table
	maskByte byte
	logger   *zap.Logger
	stats    ApplyStats
}

// NewApplier creates an applier over a table. maskByte is written into
// every redacted position (conventionally 0x00).
func NewApplier(table *Table, maskByte byte, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{
		table:    table,
		maskByte: maskByte,
		logger:   logger,
		stats:    ApplyStats{ByOpType: make(map[string]int)},
	}
}

// Apply matches the packet's starting sequence number against the table and
// applies every covering rule, in table order, to a private copy of the
// payload. Later rules win on overlapping bytes: application is sequential
// byte mutation, never range merging. Returns the masked copy and the
// number of bytes rewritten; the copy is nil when no byte changed, so the
// caller can leave the original packet untouched.
func (a *Applier) Apply(streamID string, seq uint32, payload []byte) ([]byte, int) {
	a.stats.PacketsProcessed++

	matches := a.table.FindMatches(streamID, seq)
	if len(matches) == 0 {
		a.stats.SeqMisses++
		return nil, 0
	}
	a.stats.SeqMatches++

	buf := make([]byte, len(payload))
	copy(buf, payload)

	masked := 0
	for _, e := range matches {
		n, err := e.Apply(buf, a.maskByte)
		if err != nil {
			// Per-entry failure: count, log, keep whatever earlier
			// entries already applied. Never aborts the packet.
			a.stats.ApplyFailures++
			a.logger.Warn("mask entry failed",
				zap.String("entry", e.String()),
				zap.Uint32("seq", seq),
				zap.Error(err))
			continue
		}
		masked += n
		a.stats.ByOpType[e.Op.Name()]++
	}

	if !changed(payload, buf) {
		return nil, 0
	}
	a.stats.PacketsModified++
	a.stats.BytesMasked += int64(masked)
	return buf, masked
}

// Stats returns the counters accumulated so far.
func (a *Applier) Stats() ApplyStats {
	return a.stats
}

// MaskByte returns the configured fill byte.
func (a *Applier) MaskByte() byte {
	return a.maskByte
}

func changed(orig, buf []byte) bool {
	for i := range orig {
		if orig[i] != buf[i] {
			return true
		}
	}
	return false
}

// Regions returns the union-free list of payload-relative byte spans that
// the table's matching rules are allowed to rewrite for a packet starting
// at seq. The verifier uses this to explain every differing byte.
func (t *Table) Regions(streamID string, seq uint32, payloadLen int) []ByteRange {
	var regions []ByteRange
	for _, e := range t.FindMatches(streamID, seq) {
		regions = append(regions, opRegions(e.Op, payloadLen)...)
	}
	return regions
}

func opRegions(op Op, payloadLen int) []ByteRange {
	switch o := op.(type) {
	case KeepAll:
		return nil
	case MaskAfter:
		if uint64(o.KeepBytes) >= uint64(payloadLen) {
			return nil
		}
		return []ByteRange{{Offset: o.KeepBytes, Length: uint32(payloadLen) - o.KeepBytes}}
	case MaskRange:
		var regions []ByteRange
		for _, r := range o.Ranges {
			if uint64(r.Offset) >= uint64(payloadLen) {
				continue
			}
			length := r.Length
			if uint64(r.Offset)+uint64(length) > uint64(payloadLen) {
				length = uint32(payloadLen) - r.Offset
			}
			regions = append(regions, ByteRange{Offset: r.Offset, Length: length})
		}
		return regions
	}
	return nil
}

// Covered reports whether a payload-relative offset falls inside any of the
// given regions.
func Covered(regions []ByteRange, offset int) bool {
	for _, r := range regions {
		if offset >= int(r.Offset) && offset < int(r.Offset)+int(r.Length) {
			return true
		}
	}
	return false
}
