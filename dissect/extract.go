package dissect

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/Zerofisher/pcapscrub/stream"
)

// OpaqueRateThreshold is the minimum share of TCP payloads that must decode
// as one opaque blob for a masking run to be considered trustworthy. Below
// it, dissection suppression did not fully take and masking may skip or
// corrupt content.
const OpaqueRateThreshold = 0.95

// StreamInfo is everything the mask applier and verifier need to address a
// packet's payload: canonical stream identity, starting sequence number,
// the payload view, and byte offsets into the raw frame for in-place
// rewriting.
type StreamInfo struct {
	StreamID  string
	Prefix    string
	Direction stream.Direction

	SrcIP   string
	DstIP   string
	SrcPort uint16
	DstPort uint16

	Seq     uint32
	Payload []byte

	// Byte offsets within the raw frame.
	NetworkOffset int
	TCPOffset     int
	PayloadOffset int
	IsIPv6        bool

	// Opaque is false when gopacket decoded layers past TCP, meaning the
	// payload was reinterpreted instead of staying one flat buffer.
	Opaque bool
}

// Extractor derives stream info from raw packets and tracks dissection
// health counters across a run.
type Extractor struct {
	PacketsSeen       int
	TCPSeen           int
	PayloadsExtracted int
	NonOpaque         int
}

// NewExtractor creates an extractor with zeroed counters.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// StreamInfo parses one raw frame and returns its stream identity, TCP
// sequence number and payload view. Returns ok=false for non-TCP packets
// and TCP packets without payload.
func (x *Extractor) StreamInfo(data []byte, linkType layers.LinkType) (*StreamInfo, bool) {
	x.PacketsSeen++

	packet := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{NoCopy: true})

	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return nil, false
	}
	tcp := tcpLayer.(*layers.TCP)
	x.TCPSeen++

	info := &StreamInfo{
		Seq:     tcp.Seq,
		SrcPort: uint16(tcp.SrcPort),
		DstPort: uint16(tcp.DstPort),
	}

	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		ip := ipLayer.(*layers.IPv4)
		info.SrcIP = ip.SrcIP.String()
		info.DstIP = ip.DstIP.String()
	} else if ipLayer := packet.Layer(layers.LayerTypeIPv6); ipLayer != nil {
		ip := ipLayer.(*layers.IPv6)
		info.SrcIP = ip.SrcIP.String()
		info.DstIP = ip.DstIP.String()
		info.IsIPv6 = true
	} else {
		return nil, false
	}

	if len(tcp.Payload) == 0 {
		return nil, false
	}

	// Walk the layer stack to find the TCP header's byte offset within the
	// frame. Computing from the end would miscount on padded frames.
	offset := 0
	opaque := true
	pastTCP := false
	for _, l := range packet.Layers() {
		if pastTCP {
			if l.LayerType() != gopacket.LayerTypePayload {
				opaque = false
			}
			break
		}
		if l.LayerType() == layers.LayerTypeTCP {
			info.TCPOffset = offset
			pastTCP = true
		}
		if l.LayerType() == layers.LayerTypeIPv4 || l.LayerType() == layers.LayerTypeIPv6 {
			info.NetworkOffset = offset
		}
		offset += len(l.LayerContents())
	}
	info.PayloadOffset = info.TCPOffset + len(tcp.LayerContents())
	info.Payload = tcp.Payload
	info.Opaque = opaque

	info.Prefix, info.Direction = stream.Key(info.SrcIP, info.SrcPort, info.DstIP, info.DstPort)
	info.StreamID = info.Prefix + "/" + info.Direction.String()

	x.PayloadsExtracted++
	if !opaque {
		x.NonOpaque++
	}
	return info, true
}

// HealthReport is the dissection-health metric of one run.
type HealthReport struct {
	TCPPackets           int
	TCPWithOpaquePayload int
	OpaqueRate           float64
}

// Healthy reports whether the opaque rate clears the threshold.
func (r HealthReport) Healthy() bool {
	return r.OpaqueRate >= OpaqueRateThreshold
}

// Health computes the dissection-health metric from the extractor's
// counters. An unhealthy report means the binding controller failed to
// fully suppress dissection: callers must treat it as a correctness
// warning, not proceed silently.
func (x *Extractor) Health() HealthReport {
	r := HealthReport{
		TCPPackets:           x.PayloadsExtracted,
		TCPWithOpaquePayload: x.PayloadsExtracted - x.NonOpaque,
	}
	if r.TCPPackets > 0 {
		r.OpaqueRate = float64(r.TCPWithOpaquePayload) / float64(r.TCPPackets)
	} else {
		r.OpaqueRate = 1.0
	}
	return r
}

// VerifyRawLayerDominance runs the health metric over a standalone set of
// raw frames, independent of any extractor state.
func VerifyRawLayerDominance(packets [][]byte, linkType layers.LinkType) HealthReport {
	x := NewExtractor()
	for _, data := range packets {
		x.StreamInfo(data, linkType)
	}
	return x.Health()
}
