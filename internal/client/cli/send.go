package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"seep/internal/client/session"
	"seep/internal/shared/compression/qpack"
	"seep/internal/shared/protocol"
	"seep/internal/shared/qif"
)

var (
	sendRelayURL string
	sendSession  string
)

var sendCmd = &cobra.Command{
	Use:   "send <file.qif>",
	Short: "Join a relay session as the encoder and send QIF blocks",
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

		sess, err := session.Dial(session.Options{
			RelayURL:       sendRelayURL,
			Session:        sendSession,
			Role:           protocol.RoleEncoder,
			MaxCapacity:    cfg.Compression.MaxCapacity,
			BlockedStreams: cfg.Compression.BlockedStreams,
			Huffman:        cfg.Compression.Huffman,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		defer sess.Close()

		ackDone := make(chan error, 1)
		go func() {
			ackDone <- sess.AckLoop()
		}()

		if err := sess.SetCapacity(cfg.Compression.MaxCapacity); err != nil {
			return err
		}

		for _, block := range blocks {
			headers := make([]qpack.Header, 0, len(block))
			for _, field := range block {
				headers = append(headers, qpack.NewHeader(field.Name, field.Value))
			}
			streamID, err := sess.SendHeaders(headers)
			if err != nil {
				return err
			}
			logger.Info("block sent",
				zap.Uint64("stream_id", streamID),
				zap.Int("headers", len(headers)),
			)
		}

		// Give in-flight acknowledgements a moment to drain before closing.
		select {
		case err := <-ackDone:
			return err
		case <-time.After(time.Second):
			return nil
		}
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendRelayURL, "relay", "ws://localhost:9443/relay", "relay websocket URL")
	sendCmd.Flags().StringVar(&sendSession, "session", "default", "relay session name")
	rootCmd.AddCommand(sendCmd)
}
