package cli

import (
	"encoding/hex"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"seep/internal/shared/compression/qpack"
	"seep/internal/shared/qif"
)

var decodeQIFOut string

var decodeCmd = &cobra.Command{
	Use:   "decode <file.json>",
	Short: "Decompress QPACK byte sequences produced by encode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var in encodedFile
		if err := json.Unmarshal(data, &in); err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}

		codec := qpack.New(qpack.Config{
			MaxCapacity:         in.MaxCapacity,
			BlockedStreamsLimit: in.BlockedStreams,
			Logger:              logger,
		})

		var blocks []qif.Block
		for _, b := range in.Blocks {
			encStream, err := hex.DecodeString(b.EncoderStream)
			if err != nil {
				return fmt.Errorf("stream %d: encoder stream: %w", b.StreamID, err)
			}
			fieldBlock, err := hex.DecodeString(b.FieldBlock)
			if err != nil {
				return fmt.Errorf("stream %d: field block: %w", b.StreamID, err)
			}

			if len(encStream) > 0 {
				commit, err := codec.DecodeEncoderStream(encStream)
				if err != nil {
					return fmt.Errorf("stream %d: %w", b.StreamID, err)
				}
				if err := commit(); err != nil {
					return fmt.Errorf("stream %d: %w", b.StreamID, err)
				}
			}

			headers, refDynamic, err := codec.DecodeHeaders(fieldBlock, b.StreamID)
			if err != nil {
				return fmt.Errorf("stream %d: %w", b.StreamID, err)
			}
			if refDynamic {
				// Keep the table's acknowledgement state moving the way a
				// live peer would.
				var decStream []byte
				commit, err := codec.PlanSectionAck(&decStream, b.StreamID)
				if err != nil {
					return fmt.Errorf("stream %d: %w", b.StreamID, err)
				}
				if err := commit(); err != nil {
					return fmt.Errorf("stream %d: %w", b.StreamID, err)
				}
			}

			block := make(qif.Block, 0, len(headers))
			for _, h := range headers {
				block = append(block, qif.Field{Name: h.Name.Value, Value: h.Value.Value})
			}
			blocks = append(blocks, block)
		}

		out := os.Stdout
		if decodeQIFOut != "" {
			f, err := os.Create(decodeQIFOut)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		return qif.Write(out, blocks)
	},
}

func init() {
	decodeCmd.Flags().StringVarP(&decodeQIFOut, "output", "o", "", "write decoded QIF here instead of stdout")
	rootCmd.AddCommand(decodeCmd)
}
