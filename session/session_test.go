package session

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Zerofisher/pcapscrub/capture"
	"github.com/Zerofisher/pcapscrub/internal/pkttest"
	"github.com/Zerofisher/pcapscrub/mask"
)

const (
	clientIP = "10.0.0.1"
	serverIP = "10.0.0.2"
	testID   = "10.0.0.1:49152-10.0.0.2:8080/forward"
)

func clientFrame(t *testing.T, seq uint32, payload []byte) []byte {
	t.Helper()
	return pkttest.MustTCPFrame(clientIP, 49152, serverIP, 8080, seq, payload)
}

func addEntry(t *testing.T, table *mask.Table, start, end uint32, op mask.Op) {
	t.Helper()
	e, err := mask.NewEntry(testID, start, end, op)
	if err != nil {
		t.Fatalf("NewEntry() error = %v", err)
	}
	if err := table.AddEntry(e); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
}

func TestRunMasksMatchingPackets(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.pcap")
	output := filepath.Join(dir, "output.pcap")

	payloads := [][]byte{
		pkttest.Pattern(50), // seq 1000, kept verbatim
		pkttest.Pattern(40), // seq 1100, masked after 5
		pkttest.Pattern(40), // seq 1200, masked after 5
		pkttest.Pattern(40), // seq 1300, masked after 5
	}
	frames := [][]byte{
		clientFrame(t, 1000, payloads[0]),
		clientFrame(t, 1100, payloads[1]),
		clientFrame(t, 1200, payloads[2]),
		clientFrame(t, 1300, payloads[3]),
	}
	if err := pkttest.WriteCapture(input, frames); err != nil {
		t.Fatalf("WriteCapture() error = %v", err)
	}

	table := mask.NewTable()
	addEntry(t, table, 1000, 1050, mask.KeepAll{})
	addEntry(t, table, 1100, 1400, mask.MaskAfter{KeepBytes: 5})

	result, err := Mask(input, table, output, DefaultConfig())
	if err != nil {
		t.Fatalf("Mask() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("result not successful: %s", result.ErrorMessage)
	}
	if result.TotalPackets != 4 {
		t.Errorf("TotalPackets = %d, want 4", result.TotalPackets)
	}
	if result.ModifiedPackets != 3 {
		t.Errorf("ModifiedPackets = %d, want 3", result.ModifiedPackets)
	}
	if result.BytesMasked != 3*35 {
		t.Errorf("BytesMasked = %d, want %d", result.BytesMasked, 3*35)
	}
	if result.StreamsProcessed != 1 {
		t.Errorf("StreamsProcessed = %d, want 1", result.StreamsProcessed)
	}
	if result.Stats["seq_matches"] != 4 {
		t.Errorf("seq_matches = %d, want 4", result.Stats["seq_matches"])
	}

	outFrames, _, _, err := capture.ReadAll(output)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(outFrames) != 4 {
		t.Fatalf("output has %d packets, want 4", len(outFrames))
	}

	// KeepAll packet is byte-identical.
	if !bytes.Equal(outFrames[0], frames[0]) {
		t.Error("KeepAll packet changed")
	}

	// Masked packets: headers and first 5 payload bytes intact, the rest
	// rewritten to the mask byte.
	for i := 1; i < 4; i++ {
		out := outFrames[i]
		if !bytes.Equal(out[:pkttest.PayloadOffset+5], frames[i][:pkttest.PayloadOffset+5]) {
			t.Errorf("packet %d: headers or kept prefix changed", i+1)
		}
		for off := pkttest.PayloadOffset + 5; off < len(out); off++ {
			if out[off] != 0x00 {
				t.Errorf("packet %d offset %d = %#x, want masked", i+1, off, out[off])
			}
		}
	}
}

func TestRunStrictModePasses(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.pcap")
	output := filepath.Join(dir, "output.pcap")

	frames := [][]byte{
		clientFrame(t, 1000, pkttest.Pattern(64)),
		clientFrame(t, 1064, pkttest.Pattern(64)),
	}
	if err := pkttest.WriteCapture(input, frames); err != nil {
		t.Fatalf("WriteCapture() error = %v", err)
	}

	table := mask.NewTable()
	addEntry(t, table, 1000, 1200, mask.MaskAfter{KeepBytes: 16})

	cfg := DefaultConfig()
	cfg.StrictConsistencyMode = true

	result, err := Mask(input, table, output, cfg)
	if err != nil {
		t.Fatalf("Mask() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("strict run failed: %s", result.ErrorMessage)
	}
	if result.Stats["verified_packets"] != 2 {
		t.Errorf("verified_packets = %d, want 2", result.Stats["verified_packets"])
	}
}

func TestRunStrictModeWithChecksumRecompute(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.pcap")
	output := filepath.Join(dir, "output.pcap")

	frames := [][]byte{clientFrame(t, 1000, pkttest.Pattern(64))}
	if err := pkttest.WriteCapture(input, frames); err != nil {
		t.Fatalf("WriteCapture() error = %v", err)
	}

	table := mask.NewTable()
	addEntry(t, table, 1000, 1200, mask.MaskAfter{KeepBytes: 0})

	cfg := DefaultConfig()
	cfg.StrictConsistencyMode = true
	cfg.RecomputeChecksums = true

	result, err := Mask(input, table, output, cfg)
	if err != nil {
		t.Fatalf("Mask() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("run failed: %s", result.ErrorMessage)
	}

	// The rewritten frame carries a checksum valid for the masked payload.
	want := clientFrame(t, 1000, make([]byte, 64))
	outFrames, _, _, err := capture.ReadAll(output)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(outFrames[0], want) {
		t.Error("masked frame does not match a clean serialization of the masked payload")
	}
}

func TestRunKeepAllIsByteIdentical(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.pcap")
	output := filepath.Join(dir, "output.pcap")

	frames := [][]byte{
		clientFrame(t, 1000, pkttest.Pattern(64)),
		clientFrame(t, 1064, pkttest.Pattern(32)),
	}
	if err := pkttest.WriteCapture(input, frames); err != nil {
		t.Fatalf("WriteCapture() error = %v", err)
	}

	table := mask.NewTable()
	addEntry(t, table, 0, 1000000, mask.KeepAll{})

	result, err := Mask(input, table, output, DefaultConfig())
	if err != nil {
		t.Fatalf("Mask() error = %v", err)
	}
	if result.ModifiedPackets != 0 {
		t.Errorf("ModifiedPackets = %d, want 0", result.ModifiedPackets)
	}

	outFrames, _, _, err := capture.ReadAll(output)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	for i := range frames {
		if !bytes.Equal(outFrames[i], frames[i]) {
			t.Errorf("packet %d changed under KeepAll", i+1)
		}
	}
}

func TestRunCandidateFilter(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.pcap")
	output := filepath.Join(dir, "output.pcap")

	frames := [][]byte{
		pkttest.MustTCPFrame(clientIP, 49152, serverIP, 8080, 1000, pkttest.Pattern(40)),
		pkttest.MustTCPFrame(clientIP, 49153, serverIP, 9090, 1000, pkttest.Pattern(40)),
	}
	if err := pkttest.WriteCapture(input, frames); err != nil {
		t.Fatalf("WriteCapture() error = %v", err)
	}

	table := mask.NewTable()
	for _, id := range []string{
		"10.0.0.1:49152-10.0.0.2:8080/forward",
		"10.0.0.1:49153-10.0.0.2:9090/forward",
	} {
		e, err := mask.NewEntry(id, 1000, 2000, mask.MaskAfter{KeepBytes: 0})
		if err != nil {
			t.Fatalf("NewEntry() error = %v", err)
		}
		if err := table.AddEntry(e); err != nil {
			t.Fatalf("AddEntry() error = %v", err)
		}
	}

	// Only port 8080 traffic is a masking candidate; the 9090 packet passes
	// through even though a rule covers it.
	cfg := DefaultConfig()
	cfg.Filter = "tcp.port == 8080"

	result, err := Mask(input, table, output, cfg)
	if err != nil {
		t.Fatalf("Mask() error = %v", err)
	}
	if result.ModifiedPackets != 1 {
		t.Errorf("ModifiedPackets = %d, want 1", result.ModifiedPackets)
	}

	outFrames, _, _, err := capture.ReadAll(output)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if bytes.Equal(outFrames[0], frames[0]) {
		t.Error("filtered-in packet not masked")
	}
	if !bytes.Equal(outFrames[1], frames[1]) {
		t.Error("filtered-out packet changed")
	}
}

func TestRunValidationFailures(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.pcap")
	if err := pkttest.WriteCapture(input, [][]byte{clientFrame(t, 1, []byte("x"))}); err != nil {
		t.Fatalf("WriteCapture() error = %v", err)
	}

	table := mask.NewTable()
	addEntry(t, table, 1000, 2000, mask.KeepAll{})

	tests := []struct {
		name   string
		input  string
		table  *mask.Table
		output string
	}{
		{"missing input", filepath.Join(dir, "absent.pcap"), table, filepath.Join(dir, "out1.pcap")},
		{"unsupported extension", mustWriteFile(t, filepath.Join(dir, "input.txt")), table, filepath.Join(dir, "out2.pcap")},
		{"empty table", input, mask.NewTable(), filepath.Join(dir, "out3.pcap")},
		{"output is a directory", input, table, dir},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Mask(tt.input, tt.table, tt.output, DefaultConfig())
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Mask() error = %v, want ErrValidation", err)
			}
			if result == nil || result.Success {
				t.Fatal("failed run must return an unsuccessful result")
			}
			if result.ErrorMessage == "" {
				t.Error("ErrorMessage is empty")
			}
			if tt.output != dir {
				if _, err := os.Stat(tt.output); !os.IsNotExist(err) {
					t.Errorf("output file %s exists after validation failure", tt.output)
				}
			}
		})
	}
}

func TestRunDuplicateRulesFailValidation(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.pcap")
	if err := pkttest.WriteCapture(input, [][]byte{clientFrame(t, 1, []byte("x"))}); err != nil {
		t.Fatalf("WriteCapture() error = %v", err)
	}

	table := mask.NewTable()
	addEntry(t, table, 1000, 2000, mask.KeepAll{})
	addEntry(t, table, 1000, 2000, mask.MaskAfter{KeepBytes: 4})

	_, err := Mask(input, table, filepath.Join(dir, "out.pcap"), DefaultConfig())
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Mask() error = %v, want ErrValidation", err)
	}

	// Duplicates separated by a same-start entry with a different end are
	// just as fatal.
	table = mask.NewTable()
	addEntry(t, table, 1000, 2000, mask.KeepAll{})
	addEntry(t, table, 1000, 1500, mask.KeepAll{})
	addEntry(t, table, 1000, 2000, mask.MaskAfter{KeepBytes: 4})

	_, err = Mask(input, table, filepath.Join(dir, "out2.pcap"), DefaultConfig())
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Mask() error = %v, want ErrValidation", err)
	}
}

func TestRunInvalidFilterFailsValidation(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.pcap")
	if err := pkttest.WriteCapture(input, [][]byte{clientFrame(t, 1, []byte("x"))}); err != nil {
		t.Fatalf("WriteCapture() error = %v", err)
	}

	table := mask.NewTable()
	addEntry(t, table, 1000, 2000, mask.KeepAll{})

	cfg := DefaultConfig()
	cfg.Filter = "bogus.field == 1"

	_, err := Mask(input, table, filepath.Join(dir, "out.pcap"), cfg)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Mask() error = %v, want ErrValidation", err)
	}
}

func TestSessionStateProgression(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.pcap")
	if err := pkttest.WriteCapture(input, [][]byte{clientFrame(t, 1000, pkttest.Pattern(20))}); err != nil {
		t.Fatalf("WriteCapture() error = %v", err)
	}

	table := mask.NewTable()
	addEntry(t, table, 1000, 2000, mask.MaskAfter{KeepBytes: 0})

	s := New(input, table, filepath.Join(dir, "out.pcap"), DefaultConfig())
	if s.State() != StateCreated {
		t.Fatalf("initial state = %v", s.State())
	}
	if _, err := s.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s.State() != StateCompleted {
		t.Errorf("final state = %v, want Completed", s.State())
	}

	bad := New(filepath.Join(dir, "absent.pcap"), table, filepath.Join(dir, "out2.pcap"), DefaultConfig())
	if _, err := bad.Run(); err == nil {
		t.Fatal("Run() on a missing input succeeded")
	}
	if bad.State() != StateFailed {
		t.Errorf("failed state = %v, want Failed", bad.State())
	}
}

func mustWriteFile(t *testing.T, path string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte("not a capture"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
