// Package filter provides display filter functionality using expr-lang/expr
package filter

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Packet is the flat packet view a filter expression evaluates against.
type Packet struct {
	Number     int
	Length     int
	SrcIP      string
	DstIP      string
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	PayloadLen int
	StreamID   string
	IsTCP      bool
}

// PacketEnv maps Wireshark-like field names to packet data.
type PacketEnv struct {
	Frame struct {
		Number int `expr:"number"`
		Len    int `expr:"len"`
	} `expr:"frame"`

	IP struct {
		Src string `expr:"src"`
		Dst string `expr:"dst"`
	} `expr:"ip"`

	TCP struct {
		SrcPort uint16 `expr:"srcport"`
		DstPort uint16 `expr:"dstport"`
		Seq     uint32 `expr:"seq"`
		Len     int    `expr:"len"`
		Stream  string `expr:"stream"`
	} `expr:"tcp"`

	IsTCP bool `expr:"is_tcp"`
}

// Filter is a compiled display filter.
type Filter struct {
	source  string
	program *vm.Program
}

// Compile compiles a display filter expression. Supported fields:
// frame.number, frame.len, ip.src, ip.dst, tcp.srcport, tcp.dstport,
// tcp.port (either side), tcp.seq, tcp.len, tcp.stream, and the bare
// protocol name "tcp".
func Compile(filterStr string) (*Filter, error) {
	processed := preprocess(filterStr)

	program, err := expr.Compile(processed, expr.Env(PacketEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter '%s': %w", filterStr, err)
	}
	return &Filter{source: filterStr, program: program}, nil
}

// Match evaluates the filter against one packet. Evaluation errors count
// as no match.
func (f *Filter) Match(pkt *Packet) bool {
	result, err := expr.Run(f.program, toEnv(pkt))
	if err != nil {
		return false
	}
	b, ok := result.(bool)
	return ok && b
}

// String returns the original filter source.
func (f *Filter) String() string {
	return f.source
}

// preprocess converts Wireshark-style shorthand to expr syntax.
func preprocess(filter string) string {
	// "tcp.port == N" matches either side.
	for {
		idx := strings.Index(filter, "tcp.port ==")
		if idx == -1 {
			break
		}
		rest := filter[idx+len("tcp.port =="):]
		value := strings.TrimSpace(rest)
		end := 0
		for end < len(value) && value[end] >= '0' && value[end] <= '9' {
			end++
		}
		if end == 0 {
			break
		}
		v := value[:end]
		replacement := fmt.Sprintf("(tcp.srcport == %s or tcp.dstport == %s)", v, v)
		filter = filter[:idx] + replacement + value[end:]
	}

	// Standalone "tcp" means is_tcp.
	return rewriteBareProtocol(filter)
}

// rewriteBareProtocol replaces standalone "tcp" tokens with is_tcp. Field
// references like tcp.srcport and quoted string literals pass through
// untouched, and parentheses count as token boundaries.
func rewriteBareProtocol(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		if c == '\'' || c == '"' {
			j := i + 1
			for j < len(s) && s[j] != c {
				j++
			}
			if j < len(s) {
				j++
			}
			b.WriteString(s[i:j])
			i = j
			continue
		}
		if !isWordByte(c) {
			b.WriteByte(c)
			i++
			continue
		}
		j := i
		for j < len(s) && isWordByte(s[j]) {
			j++
		}
		if word := s[i:j]; strings.EqualFold(word, "tcp") {
			b.WriteString("is_tcp")
		} else {
			b.WriteString(word)
		}
		i = j
	}
	return b.String()
}

// isWordByte treats dots as part of a token so dotted field names stay
// whole.
func isWordByte(c byte) bool {
	return c == '_' || c == '.' ||
		(c >= '0' && c <= '9') ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z')
}

func toEnv(pkt *Packet) PacketEnv {
	env := PacketEnv{}
	env.Frame.Number = pkt.Number
	env.Frame.Len = pkt.Length
	env.IP.Src = pkt.SrcIP
	env.IP.Dst = pkt.DstIP
	env.IsTCP = pkt.IsTCP
	if pkt.IsTCP {
		env.TCP.SrcPort = pkt.SrcPort
		env.TCP.DstPort = pkt.DstPort
		env.TCP.Seq = pkt.Seq
		env.TCP.Len = pkt.PayloadLen
		env.TCP.Stream = pkt.StreamID
	}
	return env
}
