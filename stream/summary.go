package stream

import (
	"sort"
	"sync"
	"time"
)

// Summary records the observed extent of one directional stream: enough
// for a user to author sequence-addressed redaction rules against it.
type Summary struct {
	ID      string
	Packets int
	Bytes   int64
	SeqLow  uint32 // lowest starting sequence number seen
	SeqHigh uint32 // highest sequence number + payload length seen
	First   time.Time
	Last    time.Time
}

// Collector aggregates stream summaries keyed by directional stream ID.
type Collector struct {
	mu      sync.RWMutex
	streams map[string]*Summary
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{streams: make(map[string]*Summary)}
}

// Observe folds one TCP packet into its stream's summary.
func (c *Collector) Observe(id string, seq uint32, payloadLen int, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.streams[id]
	if !ok {
		s = &Summary{ID: id, SeqLow: seq, SeqHigh: seq, First: ts}
		c.streams[id] = s
	}
	s.Packets++
	s.Bytes += int64(payloadLen)
	if seq < s.SeqLow {
		s.SeqLow = seq
	}
	if end := seq + uint32(payloadLen); end > s.SeqHigh {
		s.SeqHigh = end
	}
	if ts.After(s.Last) {
		s.Last = ts
	}
}

// Summaries returns all stream summaries sorted by ID.
func (c *Collector) Summaries() []*Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Summary, 0, len(c.streams))
	for _, s := range c.streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of streams observed.
func (c *Collector) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.streams)
}
