package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"seep/internal/server/relay"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the websocket relay that pairs encoder and decoder peers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		server := relay.NewServer(
			cfg.Relay.Address,
			cfg.Relay.Hostnames,
			cfg.Relay.CacheDir,
			logger,
		)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			logger.Info("shutting down", zap.String("signal", sig.String()))
			return server.Stop()
		}
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
}
