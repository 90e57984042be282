package cli

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"seep/internal/shared/compression/qpack"
	"seep/internal/shared/qif"
	"seep/internal/shared/snapshot"
)

// encodedBlock is one compressed field section plus the encoder-stream
// bytes that must be applied before it.
type encodedBlock struct {
	StreamID      uint64 `json:"stream_id"`
	EncoderStream string `json:"encoder_stream,omitempty"`
	FieldBlock    string `json:"field_block"`
}

// encodedFile is the JSON envelope produced by encode and consumed by
// decode.
type encodedFile struct {
	MaxCapacity    uint64         `json:"max_capacity"`
	BlockedStreams uint16         `json:"blocked_streams"`
	Blocks         []encodedBlock `json:"blocks"`
}

var encodeSnapshotPath string

var encodeCmd = &cobra.Command{
	Use:   "encode <file.qif>",
	Short: "Compress QIF header blocks into QPACK byte sequences",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		blocks, err := qif.Parse(f)
		if err != nil {
			return err
		}

		codec := qpack.New(qpack.Config{
			MaxCapacity:         cfg.Compression.MaxCapacity,
			BlockedStreamsLimit: cfg.Compression.BlockedStreams,
			Logger:              logger,
		})
		// A mirror decoder plays the peer so every section is acknowledged
		// immediately and later blocks are free to evict.
		mirror := qpack.New(qpack.Config{
			MaxCapacity:         cfg.Compression.MaxCapacity,
			BlockedStreamsLimit: cfg.Compression.BlockedStreams,
		})

		out := encodedFile{
			MaxCapacity:    cfg.Compression.MaxCapacity,
			BlockedStreams: cfg.Compression.BlockedStreams,
		}

		var capStream []byte
		commit, err := codec.PlanSetCapacity(&capStream, cfg.Compression.MaxCapacity)
		if err != nil {
			return err
		}
		if err := commit(); err != nil {
			return err
		}

		streamID := uint64(0)
		for _, block := range blocks {
			streamID += 4
			headers := make([]qpack.Header, 0, len(block))
			for _, field := range block {
				h := qpack.NewHeader(field.Name, field.Value)
				if cfg.Compression.Huffman {
					h.Name.Huffman = true
					h.Value.Huffman = true
				}
				headers = append(headers, h)
			}

			encStream := capStream
			capStream = nil
			if codec.IsInsertable(headers) {
				commit, err := codec.PlanInsertHeaders(&encStream, headers)
				if err != nil {
					return fmt.Errorf("block for stream %d: %w", streamID, err)
				}
				if err := commit(); err != nil {
					return fmt.Errorf("block for stream %d: %w", streamID, err)
				}
			}

			var fieldBlock []byte
			commit, err := codec.PlanHeaders(&fieldBlock, headers, streamID)
			if err != nil {
				return fmt.Errorf("block for stream %d: %w", streamID, err)
			}
			if err := commit(); err != nil {
				return fmt.Errorf("block for stream %d: %w", streamID, err)
			}

			if err := selfAck(codec, mirror, encStream, fieldBlock, streamID); err != nil {
				return fmt.Errorf("verify stream %d: %w", streamID, err)
			}

			out.Blocks = append(out.Blocks, encodedBlock{
				StreamID:      streamID,
				EncoderStream: hex.EncodeToString(encStream),
				FieldBlock:    hex.EncodeToString(fieldBlock),
			})
		}

		if encodeSnapshotPath != "" {
			err := snapshot.Save(encodeSnapshotPath, &snapshot.State{
				SavedAt: time.Now(),
				Table:   codec.TableState(),
			})
			if err != nil {
				return err
			}
			logger.Info("snapshot written", zap.String("path", encodeSnapshotPath))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(&out)
	},
}

// selfAck feeds the freshly encoded bytes through the mirror decoder and
// routes its acknowledgements back, proving each block decodes and keeping
// the encoder's known received count moving.
func selfAck(codec, mirror *qpack.Codec, encStream, fieldBlock []byte, streamID uint64) error {
	if len(encStream) > 0 {
		commit, err := mirror.DecodeEncoderStream(encStream)
		if err != nil {
			return err
		}
		if err := commit(); err != nil {
			return err
		}
	}
	_, refDynamic, err := mirror.DecodeHeaders(fieldBlock, streamID)
	if err != nil {
		return err
	}
	if !refDynamic {
		return nil
	}
	var decStream []byte
	commit, err := mirror.PlanSectionAck(&decStream, streamID)
	if err != nil {
		return err
	}
	if err := commit(); err != nil {
		return err
	}
	apply, err := codec.DecodeDecoderStream(decStream)
	if err != nil {
		return err
	}
	return apply()
}

func init() {
	encodeCmd.Flags().StringVar(&encodeSnapshotPath, "snapshot", "", "write dynamic-table snapshot to this path")
	rootCmd.AddCommand(encodeCmd)
}
