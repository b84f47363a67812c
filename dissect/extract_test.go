package dissect

import (
	"bytes"
	"testing"

	"github.com/google/gopacket/layers"

	"github.com/Zerofisher/pcapscrub/internal/pkttest"
)

func TestStreamInfoTCP(t *testing.T) {
	payload := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	frame := pkttest.MustTCPFrame("10.0.0.1", 49152, "10.0.0.2", 8080, 123456, payload)

	x := NewExtractor()
	info, ok := x.StreamInfo(frame, layers.LinkTypeEthernet)
	if !ok {
		t.Fatal("StreamInfo() = false, want extraction")
	}

	if info.StreamID != "10.0.0.1:49152-10.0.0.2:8080/forward" {
		t.Errorf("StreamID = %q", info.StreamID)
	}
	if info.Seq != 123456 {
		t.Errorf("Seq = %d, want 123456", info.Seq)
	}
	if !bytes.Equal(info.Payload, payload) {
		t.Errorf("Payload = %q", info.Payload)
	}
	if info.NetworkOffset != 14 {
		t.Errorf("NetworkOffset = %d, want 14", info.NetworkOffset)
	}
	if info.TCPOffset != 34 {
		t.Errorf("TCPOffset = %d, want 34", info.TCPOffset)
	}
	if info.PayloadOffset != pkttest.PayloadOffset {
		t.Errorf("PayloadOffset = %d, want %d", info.PayloadOffset, pkttest.PayloadOffset)
	}
	if info.IsIPv6 {
		t.Error("IsIPv6 = true for an IPv4 frame")
	}
	if !info.Opaque {
		t.Error("unbound port 8080 payload should stay opaque")
	}

	// The payload view and the raw frame agree at PayloadOffset.
	if !bytes.Equal(frame[info.PayloadOffset:info.PayloadOffset+len(payload)], payload) {
		t.Error("PayloadOffset does not address the payload within the frame")
	}

	if x.PacketsSeen != 1 || x.TCPSeen != 1 || x.PayloadsExtracted != 1 || x.NonOpaque != 0 {
		t.Errorf("counters = %+v", x)
	}
}

func TestStreamInfoReverseDirection(t *testing.T) {
	frame := pkttest.MustTCPFrame("10.0.0.2", 8080, "10.0.0.1", 49152, 999, []byte("response"))

	x := NewExtractor()
	info, ok := x.StreamInfo(frame, layers.LinkTypeEthernet)
	if !ok {
		t.Fatal("StreamInfo() = false, want extraction")
	}
	if info.StreamID != "10.0.0.1:49152-10.0.0.2:8080/reverse" {
		t.Errorf("StreamID = %q", info.StreamID)
	}
}

func TestStreamInfoSkipsNonTCP(t *testing.T) {
	frame, err := pkttest.UDPFrame("10.0.0.1", 5353, "10.0.0.2", 5353, []byte("not tcp"))
	if err != nil {
		t.Fatalf("UDPFrame() error = %v", err)
	}

	x := NewExtractor()
	if _, ok := x.StreamInfo(frame, layers.LinkTypeEthernet); ok {
		t.Fatal("StreamInfo() extracted a UDP packet")
	}
	if x.PacketsSeen != 1 || x.TCPSeen != 0 {
		t.Errorf("counters = %+v", x)
	}
}

func TestStreamInfoSkipsEmptyPayload(t *testing.T) {
	frame := pkttest.MustTCPFrame("10.0.0.1", 49152, "10.0.0.2", 8080, 1, nil)

	x := NewExtractor()
	if _, ok := x.StreamInfo(frame, layers.LinkTypeEthernet); ok {
		t.Fatal("StreamInfo() extracted a payload-less segment")
	}
	if x.TCPSeen != 1 || x.PayloadsExtracted != 0 {
		t.Errorf("counters = %+v", x)
	}
}

func TestHealthReport(t *testing.T) {
	x := NewExtractor()
	x.PayloadsExtracted = 100
	x.NonOpaque = 3

	r := x.Health()
	if r.TCPPackets != 100 || r.TCPWithOpaquePayload != 97 {
		t.Errorf("report = %+v", r)
	}
	if r.OpaqueRate != 0.97 {
		t.Errorf("OpaqueRate = %f", r.OpaqueRate)
	}
	if !r.Healthy() {
		t.Error("97%% opaque should clear the threshold")
	}

	x.NonOpaque = 10
	if x.Health().Healthy() {
		t.Error("90%% opaque should not clear the threshold")
	}

	// No payloads at all is vacuously healthy.
	empty := NewExtractor()
	if r := empty.Health(); !r.Healthy() || r.OpaqueRate != 1.0 {
		t.Errorf("empty report = %+v", r)
	}
}

func TestVerifyRawLayerDominance(t *testing.T) {
	plain := pkttest.MustTCPFrame("10.0.0.1", 50000, "10.0.0.2", 8080, 1000, pkttest.Pattern(32))
	bound := pkttest.MustTCPFrame("10.0.0.1", 50001, "10.0.0.2", 443, 2000, pkttest.Pattern(32))

	err := Default().WithDisabled(func() error {
		r := VerifyRawLayerDominance([][]byte{plain, bound}, layers.LinkTypeEthernet)
		if r.TCPPackets != 2 || r.TCPWithOpaquePayload != 2 {
			t.Errorf("suppressed report = %+v", r)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithDisabled() error = %v", err)
	}

	r := VerifyRawLayerDominance([][]byte{plain, bound}, layers.LinkTypeEthernet)
	if r.TCPWithOpaquePayload != 1 {
		t.Errorf("active-dissection report = %+v", r)
	}
}
