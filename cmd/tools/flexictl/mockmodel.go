package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/digitalforce/flexi/backend/internal/logging"
	"github.com/digitalforce/flexi/backend/internal/mockmodel"
)

func newMockModelCmd(verbose *bool) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "mock-model",
		Short: "Serve a local stand-in model endpoint on POST /predict.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(cmd.ErrOrStderr(), *verbose)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              net.JoinHostPort("", port),
				Handler:           mockmodel.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			logger.Info("mock model listening", "addr", srv.Addr, "endpoint", "POST /predict")

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().StringVar(&port, "port", envOrDefault("MOCK_MODEL_PORT", "9000"), "listen port")
	return cmd
}
