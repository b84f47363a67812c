package dissect

// FixTCPChecksum recomputes the TCP checksum of a frame in place, using the
// offsets previously extracted from the unmodified original. Callers use it
// after rewriting payload bytes; it is the single declared exception to
// byte-identity outside masked regions.
func FixTCPChecksum(frame []byte, info *StreamInfo) {
	tcpLen := info.PayloadOffset - info.TCPOffset + len(info.Payload)
	if info.TCPOffset+tcpLen > len(frame) {
		return
	}
	tcp := frame[info.TCPOffset : info.TCPOffset+tcpLen]
	tcp[16], tcp[17] = 0, 0

	var sum uint32
	if info.IsIPv6 {
		sum = sum16(frame[info.NetworkOffset+8:info.NetworkOffset+40], sum)
	} else {
		sum = sum16(frame[info.NetworkOffset+12:info.NetworkOffset+20], sum)
	}
	sum += 6 // protocol number for TCP
	sum += uint32(tcpLen)
	sum = sum16(tcp, sum)

	for sum > 0xffff {
		sum = (sum >> 16) + (sum & 0xffff)
	}
	csum := ^uint16(sum)
	tcp[16] = byte(csum >> 8)
	tcp[17] = byte(csum)
}

// ChecksumFieldOffset returns the frame-relative byte offset of the TCP
// checksum field. The verifier excludes these two bytes from byte-identity
// checks when checksum recomputation was enabled.
func ChecksumFieldOffset(info *StreamInfo) int {
	return info.TCPOffset + 16
}

func sum16(b []byte, sum uint32) uint32 {
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	return sum
}
