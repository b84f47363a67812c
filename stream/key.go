// Package stream derives canonical TCP stream identity from per-packet
// headers, without a connection table.
package stream

import "fmt"

// Direction tags which way a packet travels relative to the canonical
// endpoint ordering of its connection.
type Direction int

const (
	DirForward Direction = iota
	DirReverse
)

func (d Direction) String() string {
	if d == DirReverse {
		return "reverse"
	}
	return "forward"
}

// Endpoint is one side of a TCP connection.
type Endpoint struct {
	IP   string
	Port uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

// less orders endpoints lexicographically by (IP, Port).
func (e Endpoint) less(o Endpoint) bool {
	if e.IP != o.IP {
		return e.IP < o.IP
	}
	return e.Port < o.Port
}

// Key builds the canonical stream key prefix and the packet's direction.
// The lexicographically smaller endpoint always comes first, so both
// directions of one connection resolve to the same prefix with opposite
// direction tags, regardless of which side's packet is seen first.
func Key(srcIP string, srcPort uint16, dstIP string, dstPort uint16) (string, Direction) {
	src := Endpoint{IP: srcIP, Port: srcPort}
	dst := Endpoint{IP: dstIP, Port: dstPort}
	if src.less(dst) {
		return fmt.Sprintf("%s-%s", src, dst), DirForward
	}
	return fmt.Sprintf("%s-%s", dst, src), DirReverse
}

// ID builds the full directional stream identifier used as the redaction
// table key: the canonical prefix plus the direction tag.
func ID(srcIP string, srcPort uint16, dstIP string, dstPort uint16) string {
	prefix, dir := Key(srcIP, srcPort, dstIP, dstPort)
	return prefix + "/" + dir.String()
}

// SplitID separates a directional stream identifier into its canonical
// prefix and direction tag. Unknown tags default to forward.
func SplitID(id string) (string, Direction) {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '/' {
			if id[i+1:] == DirReverse.String() {
				return id[:i], DirReverse
			}
			return id[:i], DirForward
		}
	}
	return id, DirForward
}
