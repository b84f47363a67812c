package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/pcapscrub/capture"
	"github.com/Zerofisher/pcapscrub/dissect"
	"github.com/Zerofisher/pcapscrub/filter"
	"github.com/Zerofisher/pcapscrub/stream"
)

// streams command flags
var streamsFilter string

var streamsCmd = &cobra.Command{
	Use:   "streams <file>",
	Short: "Enumerate directional TCP streams and their sequence extents",
	Long: `List every directional TCP stream in a capture with its canonical
stream ID, packet and byte counts, and observed sequence number range.
The stream IDs and sequence extents are what redaction rules address.`,
	Example: `  pcapscrub streams capture.pcap
  pcapscrub streams capture.pcap -Y "tcp.port == 443"`,
	Args:    cobra.ExactArgs(1),
	GroupID: "info",
	RunE:    runStreams,
}

func init() {
	streamsCmd.Flags().StringVarP(&streamsFilter, "filter", "Y", "",
		"Display filter expression")
}

func runStreams(cmd *cobra.Command, args []string) error {
	file := args[0]

	var candidate *filter.Filter
	if streamsFilter != "" {
		var err error
		candidate, err = filter.Compile(streamsFilter)
		if err != nil {
			return fmt.Errorf("error compiling display filter: %w", err)
		}
	}

	reader, err := capture.OpenFile(file)
	if err != nil {
		return fmt.Errorf("error opening file: %w", err)
	}
	defer reader.Close()

	extractor := dissect.NewExtractor()
	collector := stream.NewCollector()
	linkType := reader.LinkType()
	num := 0

	for {
		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading packet %d: %w", reader.Count()+1, err)
		}
		num++

		info, ok := extractor.StreamInfo(data, linkType)
		if !ok {
			continue
		}
		if candidate != nil && !candidate.Match(&filter.Packet{
			Number:     num,
			Length:     len(data),
			SrcIP:      info.SrcIP,
			DstIP:      info.DstIP,
			SrcPort:    info.SrcPort,
			DstPort:    info.DstPort,
			Seq:        info.Seq,
			PayloadLen: len(info.Payload),
			StreamID:   info.StreamID,
			IsTCP:      true,
		}) {
			continue
		}
		collector.Observe(info.StreamID, info.Seq, len(info.Payload), ci.Timestamp)
	}

	summaries := collector.Summaries()
	fmt.Printf("%d packets, %d directional streams\n\n", num, len(summaries))
	for _, s := range summaries {
		fmt.Printf("%s\n", s.ID)
		fmt.Printf("  packets=%d bytes=%d seq=[%d, %d)\n", s.Packets, s.Bytes, s.SeqLow, s.SeqHigh)
	}
	return nil
}
