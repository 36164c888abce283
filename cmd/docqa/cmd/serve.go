package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"docqa/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.Validator()
		if err != nil {
			return err
		}
		s := a.Config.Server
		srv := api.NewServer(api.Config{
			Addr:           s.Addr,
			ReadTimeout:    time.Duration(s.ReadTimeoutSecs) * time.Second,
			WriteTimeout:   time.Duration(s.WriteTimeoutSecs) * time.Second,
			MaxUploadBytes: int64(s.MaxUploadMB) << 20,
			RatePerSecond:  a.Config.Auth.RatePerSecond,
			Burst:          a.Config.Auth.Burst,
		}, a.Service, v, a.Registry, a.Logger, a.Metrics)
		return srv.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
