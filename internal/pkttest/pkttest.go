// Package pkttest builds synthetic packets and capture files for tests.
package pkttest

import (
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/Zerofisher/pcapscrub/capture"
)

// EthernetHeaderLen + IPv4 header (no options) + TCP header (no options):
// the payload offset of frames built by TCPFrame.
const PayloadOffset = 14 + 20 + 20

// TCPFrame serializes an Ethernet/IPv4/TCP frame with correct lengths and
// checksums.
func TCPFrame(srcIP string, srcPort uint16, dstIP string, dstPort uint16, seq uint32, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(srcIP).To4(),
		DstIP:    net.ParseIP(dstIP).To4(),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     seq,
		PSH:     true,
		ACK:     true,
		Window:  65535,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustTCPFrame is TCPFrame for test setup; it panics on serialization
// failure.
func MustTCPFrame(srcIP string, srcPort uint16, dstIP string, dstPort uint16, seq uint32, payload []byte) []byte {
	frame, err := TCPFrame(srcIP, srcPort, dstIP, dstPort, seq, payload)
	if err != nil {
		panic(fmt.Sprintf("pkttest: build TCP frame: %v", err))
	}
	return frame
}

// UDPFrame serializes an Ethernet/IPv4/UDP frame.
func UDPFrame(srcIP string, srcPort uint16, dstIP string, dstPort uint16, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(srcIP).To4(),
		DstIP:    net.ParseIP(dstIP).To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteCapture writes frames to a legacy pcap file with increasing
// timestamps.
func WriteCapture(path string, frames [][]byte) error {
	w, err := capture.NewWriter(path, capture.FormatPcap, layers.LinkTypeEthernet, 65536)
	if err != nil {
		return err
	}
	defer w.Close()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     base.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		if err := w.WritePacket(ci, frame); err != nil {
			return err
		}
	}
	return w.Close()
}

// Pattern returns n bytes of a deterministic non-zero pattern.
func Pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('A' + i%23)
	}
	return b
}
