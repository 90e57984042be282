package cli

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"seep/internal/client/session"
	"seep/internal/shared/compression/qpack"
	"seep/internal/shared/protocol"
	"seep/internal/shared/qif"
)

var (
	recvRelayURL string
	recvSession  string
	recvQIFOut   string
)

var recvCmd = &cobra.Command{
	Use:   "recv",
	Short: "Join a relay session as the decoder and print received blocks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := session.Dial(session.Options{
			RelayURL:       recvRelayURL,
			Session:        recvSession,
			Role:           protocol.RoleDecoder,
			MaxCapacity:    cfg.Compression.MaxCapacity,
			BlockedStreams: cfg.Compression.BlockedStreams,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		defer sess.Close()

		out := os.Stdout
		if recvQIFOut != "" {
			f, err := os.Create(recvQIFOut)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}

		var blocks []qif.Block
		err = sess.Receive(func(streamID uint64, headers []qpack.Header) {
			logger.Info("block received",
				zap.Uint64("stream_id", streamID),
				zap.Int("headers", len(headers)),
			)
			block := make(qif.Block, 0, len(headers))
			for _, h := range headers {
				block = append(block, qif.Field{Name: h.Name.Value, Value: h.Value.Value})
			}
			blocks = append(blocks, block)
		})
		if err != nil {
			return err
		}
		return qif.Write(out, blocks)
	},
}

func init() {
	recvCmd.Flags().StringVar(&recvRelayURL, "relay", "ws://localhost:9443/relay", "relay websocket URL")
	recvCmd.Flags().StringVar(&recvSession, "session", "default", "relay session name")
	recvCmd.Flags().StringVarP(&recvQIFOut, "output", "o", "", "write received QIF here instead of stdout")
	rootCmd.AddCommand(recvCmd)
}
