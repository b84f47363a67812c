// Package capture reads and writes pcap/pcapng capture files as ordered
// sequences of raw link-layer frames.
package capture

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Format identifies the capture container format.
type Format int

const (
	FormatPcap Format = iota
	FormatPcapNg
)

func (f Format) String() string {
	if f == FormatPcapNg {
		return "pcapng"
	}
	return "pcap"
}

const ngMagic = 0x0A0D0D0A

var pcapMagics = map[uint32]bool{
	0xA1B2C3D4: true, // big endian, microseconds
	0xD4C3B2A1: true, // little endian, microseconds
	0xA1B23C4D: true, // big endian, nanoseconds
	0x4D3CB2A1: true, // little endian, nanoseconds
}

// DetectFormat sniffs the container format from the file's magic number.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatPcap, err
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return FormatPcap, fmt.Errorf("read magic of %s: %w", path, err)
	}
	v := binary.BigEndian.Uint32(magic[:])
	switch {
	case v == ngMagic:
		return FormatPcapNg, nil
	case pcapMagics[v]:
		return FormatPcap, nil
	}
	return FormatPcap, fmt.Errorf("%s is not a pcap or pcapng file (magic 0x%08x)", path, v)
}

// Reader reads raw frames from a pcap or pcapng file, detecting the
// container format from the magic number.
type Reader struct {
	file   *os.File
	format Format
	legacy *pcapgo.Reader
	ng     *pcapgo.NgReader
	count  int
}

// OpenFile opens a capture file for reading.
func OpenFile(path string) (*Reader, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	r := &Reader{file: file, format: format}
	buf := bufio.NewReaderSize(file, 1<<16)
	switch format {
	case FormatPcapNg:
		r.ng, err = pcapgo.NewNgReader(buf, pcapgo.DefaultNgReaderOptions)
	default:
		r.legacy, err = pcapgo.NewReader(buf)
	}
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to parse %s header: %w", format, err)
	}
	return r, nil
}

// ReadPacketData returns the next frame. io.EOF ends the sequence.
func (r *Reader) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	var (
		data []byte
		ci   gopacket.CaptureInfo
		err  error
	)
	if r.ng != nil {
		data, ci, err = r.ng.ReadPacketData()
	} else {
		data, ci, err = r.legacy.ReadPacketData()
	}
	if err == nil {
		r.count++
	}
	return data, ci, err
}

// LinkType returns the link layer type of the capture.
func (r *Reader) LinkType() layers.LinkType {
	if r.ng != nil {
		return r.ng.LinkType()
	}
	return r.legacy.LinkType()
}

// Format returns the detected container format.
func (r *Reader) Format() Format {
	return r.format
}

// Count returns the number of packets read so far.
func (r *Reader) Count() int {
	return r.count
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadAll slurps every frame of a capture file into memory. Intended for
// tests and the verifier's small-file paths.
func ReadAll(path string) ([][]byte, []gopacket.CaptureInfo, layers.LinkType, error) {
	r, err := OpenFile(path)
	if err != nil {
		return nil, nil, 0, err
	}
	defer r.Close()

	var (
		frames [][]byte
		cis    []gopacket.CaptureInfo
	)
	for {
		data, ci, err := r.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, 0, fmt.Errorf("read packet %d: %w", r.Count()+1, err)
		}
		frame := make([]byte, len(data))
		copy(frame, data)
		frames = append(frames, frame)
		cis = append(cis, ci)
	}
	return frames, cis, r.LinkType(), nil
}
