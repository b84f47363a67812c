// Package verify re-reads an original and a masked capture file and proves
// that nothing outside the declared redaction ranges changed.
package verify

import (
	"fmt"
	"io"

	"github.com/google/gopacket/layers"

	"github.com/Zerofisher/pcapscrub/capture"
	"github.com/Zerofisher/pcapscrub/dissect"
	"github.com/Zerofisher/pcapscrub/mask"
)

// DefaultMaxDiscrepancies bounds how many findings a report carries.
const DefaultMaxDiscrepancies = 20

// Discrepancy is one unexplained byte difference between the files.
type Discrepancy struct {
	Packet   int // 1-based packet number
	Offset   int // byte offset within the frame, -1 for structural issues
	Original byte
	Masked   byte
	Reason   string
}

func (d Discrepancy) String() string {
	if d.Offset < 0 {
		return fmt.Sprintf("packet %d: %s", d.Packet, d.Reason)
	}
	return fmt.Sprintf("packet %d offset %d: 0x%02x != 0x%02x (%s)",
		d.Packet, d.Offset, d.Original, d.Masked, d.Reason)
}

// Report is the outcome of one verification pass.
type Report struct {
	Passed           bool
	PacketsCompared  int
	OriginalPackets  int
	MaskedPackets    int
	ExplainedBytes   int64
	UnexplainedBytes int64
	Discrepancies    []Discrepancy
}

// Options tunes a verification pass.
type Options struct {
	// MaxDiscrepancies caps the findings list. 0 means DefaultMaxDiscrepancies.
	MaxDiscrepancies int
	// AllowChecksum permits differences in the TCP checksum field, the
	// declared exception when checksum recomputation was enabled.
	AllowChecksum bool
}

// Run compares the two files packet by packet in lockstep. Every differing
// byte must fall inside a mask region the table declares for that packet's
// stream and sequence number; packet count and ordering must be preserved.
func Run(originalPath, maskedPath string, table *mask.Table, opts Options) (*Report, error) {
	if opts.MaxDiscrepancies <= 0 {
		opts.MaxDiscrepancies = DefaultMaxDiscrepancies
	}

	orig, err := capture.OpenFile(originalPath)
	if err != nil {
		return nil, fmt.Errorf("open original: %w", err)
	}
	defer orig.Close()

	masked, err := capture.OpenFile(maskedPath)
	if err != nil {
		return nil, fmt.Errorf("open masked: %w", err)
	}
	defer masked.Close()

	report := &Report{Passed: true}
	extractor := dissect.NewExtractor()
	linkType := orig.LinkType()

	for {
		origData, _, origErr := orig.ReadPacketData()
		maskedData, _, maskedErr := masked.ReadPacketData()

		if origErr == io.EOF || maskedErr == io.EOF {
			report.OriginalPackets = orig.Count()
			report.MaskedPackets = masked.Count()
			// Drain whichever side is longer so the counts are exact.
			for origErr == nil {
				_, _, origErr = orig.ReadPacketData()
				report.OriginalPackets = orig.Count()
			}
			for maskedErr == nil {
				_, _, maskedErr = masked.ReadPacketData()
				report.MaskedPackets = masked.Count()
			}
			break
		}
		if origErr != nil {
			return nil, fmt.Errorf("read original packet %d: %w", orig.Count()+1, origErr)
		}
		if maskedErr != nil {
			return nil, fmt.Errorf("read masked packet %d: %w", masked.Count()+1, maskedErr)
		}

		report.PacketsCompared++
		num := report.PacketsCompared
		comparePacket(report, extractor, table, opts, num, origData, maskedData, linkType)
	}

	if report.OriginalPackets != report.MaskedPackets {
		report.Passed = false
		report.addDiscrepancy(opts, Discrepancy{
			Packet: report.PacketsCompared + 1,
			Offset: -1,
			Reason: fmt.Sprintf("packet count mismatch: %d original, %d masked",
				report.OriginalPackets, report.MaskedPackets),
		})
	}
	return report, nil
}

func comparePacket(report *Report, extractor *dissect.Extractor, table *mask.Table, opts Options, num int, origData, maskedData []byte, linkType layers.LinkType) {
	if len(origData) != len(maskedData) {
		report.Passed = false
		report.addDiscrepancy(opts, Discrepancy{
			Packet: num,
			Offset: -1,
			Reason: fmt.Sprintf("frame length changed: %d != %d", len(origData), len(maskedData)),
		})
		return
	}

	info, hasPayload := extractor.StreamInfo(origData, linkType)

	var regions []mask.ByteRange
	if hasPayload {
		regions = table.Regions(info.StreamID, info.Seq, len(info.Payload))
	}

	for i := range origData {
		if origData[i] == maskedData[i] {
			continue
		}
		explained := false
		switch {
		case hasPayload && i >= info.PayloadOffset && mask.Covered(regions, i-info.PayloadOffset):
			explained = true
		case opts.AllowChecksum && hasPayload &&
			(i == dissect.ChecksumFieldOffset(info) || i == dissect.ChecksumFieldOffset(info)+1):
			explained = true
		}
		if explained {
			report.ExplainedBytes++
			continue
		}
		report.UnexplainedBytes++
		report.Passed = false
		report.addDiscrepancy(opts, Discrepancy{
			Packet:   num,
			Offset:   i,
			Original: origData[i],
			Masked:   maskedData[i],
			Reason:   "outside declared mask regions",
		})
	}
}

func (r *Report) addDiscrepancy(opts Options, d Discrepancy) {
	if len(r.Discrepancies) < opts.MaxDiscrepancies {
		r.Discrepancies = append(r.Discrepancies, d)
	}
}
