package dissect

import (
	"bytes"
	"testing"

	"github.com/google/gopacket/layers"

	"github.com/Zerofisher/pcapscrub/internal/pkttest"
)

// Masking a payload and fixing the checksum must produce exactly the frame
// gopacket would serialize for the masked payload.
func TestFixTCPChecksumMatchesSerializer(t *testing.T) {
	payload := pkttest.Pattern(73) // odd length exercises the padding byte
	masked := make([]byte, len(payload))
	copy(masked, payload)
	for i := 8; i < len(masked); i++ {
		masked[i] = 0x00
	}

	frame := pkttest.MustTCPFrame("10.0.0.1", 49152, "10.0.0.2", 8080, 1000, payload)
	want := pkttest.MustTCPFrame("10.0.0.1", 49152, "10.0.0.2", 8080, 1000, masked)

	x := NewExtractor()
	info, ok := x.StreamInfo(frame, layers.LinkTypeEthernet)
	if !ok {
		t.Fatal("StreamInfo() = false, want extraction")
	}

	got := make([]byte, len(frame))
	copy(got, frame)
	copy(got[info.PayloadOffset:], masked)
	FixTCPChecksum(got, info)

	if !bytes.Equal(got, want) {
		off := ChecksumFieldOffset(info)
		t.Errorf("frames differ: checksum bytes %#x %#x, want %#x %#x",
			got[off], got[off+1], want[off], want[off+1])
	}
}

func TestFixTCPChecksumUnmaskedIsIdentity(t *testing.T) {
	frame := pkttest.MustTCPFrame("10.0.0.1", 49152, "10.0.0.2", 8080, 42, pkttest.Pattern(40))

	x := NewExtractor()
	info, ok := x.StreamInfo(frame, layers.LinkTypeEthernet)
	if !ok {
		t.Fatal("StreamInfo() = false, want extraction")
	}

	got := make([]byte, len(frame))
	copy(got, frame)
	FixTCPChecksum(got, info)

	if !bytes.Equal(got, frame) {
		t.Error("recomputing over unmodified bytes changed the frame")
	}
}

func TestChecksumFieldOffset(t *testing.T) {
	frame := pkttest.MustTCPFrame("10.0.0.1", 49152, "10.0.0.2", 8080, 1, []byte("x"))

	x := NewExtractor()
	info, ok := x.StreamInfo(frame, layers.LinkTypeEthernet)
	if !ok {
		t.Fatal("StreamInfo() = false, want extraction")
	}
	if got := ChecksumFieldOffset(info); got != 34+16 {
		t.Errorf("ChecksumFieldOffset() = %d, want %d", got, 34+16)
	}
}
