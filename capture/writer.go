package capture

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Writer writes packets to a pcap or pcapng file, mirroring whatever
// container format the input used.
type Writer struct {
	file     *os.File
	buf      *bufio.Writer
	legacy   *pcapgo.Writer
	ng       *pcapgo.NgWriter
	mu       sync.Mutex
	count    int
	filename string
	format   Format
	linkType layers.LinkType
	snapLen  uint32
	closed   bool
}

// NewWriter creates a capture file writer for the given format.
func NewWriter(filename string, format Format, linkType layers.LinkType, snapLen uint32) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", filename, err)
	}

	w := &Writer{
		file:     file,
		filename: filename,
		format:   format,
		linkType: linkType,
		snapLen:  snapLen,
	}

	switch format {
	case FormatPcapNg:
		ngOptions := pcapgo.NgWriterOptions{
			SectionInfo: pcapgo.NgSectionInfo{
				Application: "pcapscrub",
			},
		}
		w.ng, err = pcapgo.NewNgWriterInterface(file, pcapgo.NgInterface{
			Name:       "pcapscrub",
			LinkType:   linkType,
			SnapLength: snapLen,
		}, ngOptions)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to create pcapng writer: %w", err)
		}
	default:
		w.buf = bufio.NewWriterSize(file, 1<<16)
		w.legacy = pcapgo.NewWriter(w.buf)
		if err := w.legacy.WriteFileHeader(snapLen, linkType); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write pcap header: %w", err)
		}
	}

	return w, nil
}

// WritePacket writes a single raw frame.
func (w *Writer) WritePacket(ci gopacket.CaptureInfo, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	if len(data) == 0 {
		return nil
	}

	var err error
	if w.ng != nil {
		err = w.ng.WritePacket(ci, data)
	} else {
		err = w.legacy.WritePacket(ci, data)
	}
	if err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}

	w.count++
	return nil
}

// Flush flushes any buffered data to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	if w.ng != nil {
		return w.ng.Flush()
	}
	return w.buf.Flush()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if w.ng != nil {
		err = w.ng.Flush()
	} else {
		err = w.buf.Flush()
	}
	if err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush: %w", err)
	}
	return w.file.Close()
}

// Count returns the number of packets written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Filename returns the output filename.
func (w *Writer) Filename() string {
	return w.filename
}
