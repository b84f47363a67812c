// Package session orchestrates one masking run: validation, dissection
// suspension, read → mask → write, optional verification, statistics.
package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Zerofisher/pcapscrub/capture"
	"github.com/Zerofisher/pcapscrub/dissect"
	"github.com/Zerofisher/pcapscrub/filter"
	"github.com/Zerofisher/pcapscrub/mask"
	"github.com/Zerofisher/pcapscrub/verify"
)

// Error kinds. Ordinary failures come back both as a failed Result and as
// a wrapped sentinel, so callers can pick either style.
var (
	ErrValidation      = errors.New("validation failed")
	ErrProtocolBinding = errors.New("protocol binding failed")
	ErrConsistency     = errors.New("consistency verification failed")
)

// State tracks the session through its run.
type State int

const (
	StateCreated State = iota
	StateValidating
	StateMasking
	StateVerifying
	StateCompleted
	StateFailed
)

func (s State) String() string {
	names := []string{"Created", "Validating", "Masking", "Verifying", "Completed", "Failed"}
	if int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// DefaultSnapLen is used when writing output files.
const DefaultSnapLen = 65536

var supportedExtensions = map[string]bool{
	".pcap":   true,
	".pcapng": true,
	".cap":    true,
}

// Config holds the recognized masking options.
type Config struct {
	// MaskByte is written into every redacted position.
	MaskByte byte
	// DisableProtocolParsing engages the protocol binding controller for
	// the duration of the run.
	DisableProtocolParsing bool
	// StrictConsistencyMode re-reads both files after masking and proves
	// byte-identity outside the declared redaction ranges.
	StrictConsistencyMode bool
	// RecomputeChecksums fixes the TCP checksum of rewritten packets in
	// place. The verifier treats the checksum field as the one declared
	// exception when this is on.
	RecomputeChecksums bool
	// BatchSize is the number of packets per internal chunk before the
	// writer is flushed. Tuning only, no behavioral effect.
	BatchSize int
	// Filter optionally restricts which packets are masking candidates
	// (display filter expression). Non-matching packets pass through.
	Filter string
	// Logger receives structured progress events. Nil means no logging.
	Logger *zap.Logger
}

// DefaultConfig returns the standard run configuration.
func DefaultConfig() Config {
	return Config{
		MaskByte:               0x00,
		DisableProtocolParsing: true,
		BatchSize:              1024,
	}
}

// Result is the outcome of one file run. Mutated only by the session
// during the run, immutable afterwards, owned by the caller.
type Result struct {
	Success          bool
	TotalPackets     int
	ModifiedPackets  int
	BytesMasked      int64
	StreamsProcessed int
	ProcessingTime   time.Duration
	ErrorMessage     string
	Stats            map[string]int64
}

// Session is one independent masking run over one file. Sessions may run
// concurrently against different files; the binding controller serializes
// the dissection-suppressed region.
type Session struct {
	input  string
	output string
	table  *mask.Table
	cfg    Config
	state  State
	logger *zap.Logger

	controller *dissect.Controller
	candidate  *filter.Filter
	extractor  *dissect.Extractor
}

// New creates a session. Nothing is validated until Run.
func New(input string, table *mask.Table, output string, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1024
	}
	return &Session{
		input:      input,
		output:     output,
		table:      table,
		cfg:        cfg,
		state:      StateCreated,
		logger:     logger,
		controller: dissect.Default(),
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	return s.state
}

// Mask runs a complete masking session over one file.
func Mask(input string, table *mask.Table, output string, cfg Config) (*Result, error) {
	return New(input, table, output, cfg).Run()
}

// Run drives the state machine to completion. The returned Result is
// always non-nil; ordinary failures set Success=false and ErrorMessage
// alongside the wrapped error.
func (s *Session) Run() (*Result, error) {
	start := time.Now()
	result := &Result{Stats: make(map[string]int64)}
	defer func() {
		result.ProcessingTime = time.Since(start)
	}()

	s.state = StateValidating
	if err := s.validate(); err != nil {
		return s.fail(result, err)
	}

	s.logger.Info("masking started",
		zap.String("input", s.input),
		zap.String("output", s.output),
		zap.Int("rules", s.table.Len()),
		zap.Bool("strict", s.cfg.StrictConsistencyMode))

	s.state = StateMasking
	s.extractor = dissect.NewExtractor()
	var maskErr error
	if s.cfg.DisableProtocolParsing {
		maskErr = s.controller.WithDisabled(func() error {
			return s.maskFile(result)
		})
	} else {
		maskErr = s.maskFile(result)
	}
	if maskErr != nil {
		return s.fail(result, maskErr)
	}

	health := s.extractor.Health()
	result.Stats["tcp_packets"] = int64(health.TCPPackets)
	result.Stats["tcp_opaque_payloads"] = int64(health.TCPWithOpaquePayload)
	if !health.Healthy() {
		s.logger.Warn("dissection suppression incomplete, masked output may be unreliable",
			zap.Float64("opaque_rate", health.OpaqueRate),
			zap.Float64("threshold", dissect.OpaqueRateThreshold))
		result.Stats["opaque_rate_warning"] = 1
	}

	if s.cfg.StrictConsistencyMode {
		s.state = StateVerifying
		report, err := verify.Run(s.input, s.output, s.table, verify.Options{
			AllowChecksum: s.cfg.RecomputeChecksums,
		})
		if err != nil {
			return s.fail(result, fmt.Errorf("%w: %v", ErrConsistency, err))
		}
		result.Stats["verified_packets"] = int64(report.PacketsCompared)
		if !report.Passed {
			// The output file is kept; the caller decides what to do
			// with it.
			detail := "unexplained differences"
			if len(report.Discrepancies) > 0 {
				detail = report.Discrepancies[0].String()
			}
			return s.fail(result, fmt.Errorf("%w: %s", ErrConsistency, detail))
		}
	}

	s.state = StateCompleted
	result.Success = true
	s.logger.Info("masking completed",
		zap.Int("total_packets", result.TotalPackets),
		zap.Int("modified_packets", result.ModifiedPackets),
		zap.Int64("bytes_masked", result.BytesMasked),
		zap.Int("streams", result.StreamsProcessed),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (s *Session) fail(result *Result, err error) (*Result, error) {
	s.state = StateFailed
	result.Success = false
	result.ErrorMessage = err.Error()
	s.logger.Error("masking failed", zap.Error(err))
	return result, err
}

func (s *Session) validate() error {
	fi, err := os.Stat(s.input)
	if err != nil {
		return fmt.Errorf("%w: input file: %v", ErrValidation, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: input %s is a directory", ErrValidation, s.input)
	}
	ext := strings.ToLower(filepath.Ext(s.input))
	if !supportedExtensions[ext] {
		return fmt.Errorf("%w: unsupported input extension %q", ErrValidation, ext)
	}

	if s.table == nil || s.table.Len() == 0 {
		return fmt.Errorf("%w: redaction table is empty", ErrValidation)
	}
	for _, issue := range s.table.ValidateConsistency() {
		if issue.Severity == mask.SeverityError {
			return fmt.Errorf("%w: %s", ErrValidation, issue)
		}
		s.logger.Warn("redaction table issue", zap.String("issue", issue.String()))
	}

	if fi, err := os.Stat(s.output); err == nil && fi.IsDir() {
		return fmt.Errorf("%w: output %s is an existing directory", ErrValidation, s.output)
	}
	if dir := filepath.Dir(s.output); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: create output directory: %v", ErrValidation, err)
		}
	}

	if s.cfg.Filter != "" {
		s.candidate, err = filter.Compile(s.cfg.Filter)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return nil
}

// maskFile is the read → extract → mask → write loop. Only I/O errors
// abort it; per-packet and per-rule failures are counted and skipped.
func (s *Session) maskFile(result *Result) error {
	reader, err := capture.OpenFile(s.input)
	if err != nil {
		return err
	}
	defer reader.Close()

	writer, err := capture.NewWriter(s.output, reader.Format(), reader.LinkType(), DefaultSnapLen)
	if err != nil {
		return err
	}
	defer writer.Close()

	applier := mask.NewApplier(s.table, s.cfg.MaskByte, s.logger)
	modifiedStreams := make(map[string]struct{})
	linkType := reader.LinkType()
	inBatch := 0

	for {
		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read packet %d: %w", reader.Count()+1, err)
		}
		result.TotalPackets++

		out := data
		if info, ok := s.extractor.StreamInfo(data, linkType); ok && s.wantPacket(result.TotalPackets, len(data), info) {
			if masked, n := applier.Apply(info.StreamID, info.Seq, info.Payload); masked != nil {
				frame := make([]byte, len(data))
				copy(frame, data)
				copy(frame[info.PayloadOffset:info.PayloadOffset+len(masked)], masked)
				if s.cfg.RecomputeChecksums {
					dissect.FixTCPChecksum(frame, info)
				}
				out = frame
				result.ModifiedPackets++
				result.BytesMasked += int64(n)
				modifiedStreams[info.StreamID] = struct{}{}
			}
		}

		if err := writer.WritePacket(ci, out); err != nil {
			return fmt.Errorf("write packet %d: %w", result.TotalPackets, err)
		}
		inBatch++
		if inBatch >= s.cfg.BatchSize {
			if err := writer.Flush(); err != nil {
				return fmt.Errorf("flush output: %w", err)
			}
			inBatch = 0
		}
	}

	result.StreamsProcessed = len(modifiedStreams)
	stats := applier.Stats()
	result.Stats["seq_matches"] = int64(stats.SeqMatches)
	result.Stats["seq_misses"] = int64(stats.SeqMisses)
	result.Stats["apply_failures"] = int64(stats.ApplyFailures)
	for op, n := range stats.ByOpType {
		result.Stats["op_"+op] = int64(n)
	}
	return writer.Close()
}

func (s *Session) wantPacket(num, length int, info *dissect.StreamInfo) bool {
	if s.candidate == nil {
		return true
	}
	return s.candidate.Match(&filter.Packet{
		Number:     num,
		Length:     length,
		SrcIP:      info.SrcIP,
		DstIP:      info.DstIP,
		SrcPort:    info.SrcPort,
		DstPort:    info.DstPort,
		Seq:        info.Seq,
		PayloadLen: len(info.Payload),
		StreamID:   info.StreamID,
		IsTCP:      true,
	})
}
