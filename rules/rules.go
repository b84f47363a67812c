// Package rules loads redaction rule documents into a mask.Table. This is
// the file-based table builder consumed by the CLI; policy layers can build
// tables directly through the mask package instead.
package rules

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Zerofisher/pcapscrub/mask"
)

// Actions recognized in rule documents.
const (
	ActionKeepAll   = "keep_all"
	ActionMaskAfter = "mask_after"
	ActionMaskRange = "mask_range"
)

// Document is the on-disk rules format.
type Document struct {
	Version int    `json:"version,omitempty"`
	Rules   []Rule `json:"rules"`
}

// Rule is one redaction rule in document form.
type Rule struct {
	Stream    string      `json:"stream"`
	SeqStart  uint32      `json:"seq_start"`
	SeqEnd    uint32      `json:"seq_end"`
	Action    string      `json:"action"`
	KeepBytes uint32      `json:"keep_bytes,omitempty"`
	Ranges    [][2]uint32 `json:"ranges,omitempty"` // [offset, length] pairs
}

// Load reads a rules file and builds a validated redaction table.
func Load(path string) (*mask.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules file: %w", err)
	}
	defer f.Close()
	table, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// Parse decodes a rules document and builds the table. Any malformed rule
// fails the whole document: rules are validated at load time, never during
// masking.
func Parse(r io.Reader) (*mask.Table, error) {
	var doc Document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode rules document: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("rules document contains no rules")
	}

	table := mask.NewTable()
	for i, rule := range doc.Rules {
		entry, err := rule.toEntry()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if err := table.AddEntry(entry); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return table, nil
}

func (r Rule) toEntry() (*mask.Entry, error) {
	var op mask.Op
	switch r.Action {
	case ActionKeepAll:
		op = mask.KeepAll{}
	case ActionMaskAfter:
		op = mask.MaskAfter{KeepBytes: r.KeepBytes}
	case ActionMaskRange:
		ranges := make([]mask.ByteRange, 0, len(r.Ranges))
		for _, pair := range r.Ranges {
			ranges = append(ranges, mask.ByteRange{Offset: pair[0], Length: pair[1]})
		}
		op = mask.MaskRange{Ranges: ranges}
	default:
		return nil, fmt.Errorf("unsupported action %q", r.Action)
	}
	return mask.NewEntry(r.Stream, r.SeqStart, r.SeqEnd, op)
}
