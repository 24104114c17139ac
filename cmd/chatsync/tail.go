package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Prismer-AI/Prismer/sdk/chatsync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	tailMetricsAddr string
	tailTypes       []string
)

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().StringVar(&tailMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	tailCmd.Flags().StringSliceVar(&tailTypes, "type", nil, "only print these event types (repeatable)")
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print every event received from the server",
	Long:  "Connect and print every inbound event as one JSON line until interrupted. Reconnect and failure notices go to stderr.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := clientConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var opts []chatsync.ClientOption
		if tailMetricsAddr != "" {
			reg := prometheus.NewRegistry()
			opts = append(opts, chatsync.WithMetrics(chatsync.NewMetrics(reg)))
			srv := &http.Server{
				Addr:              tailMetricsAddr,
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("metrics server stopped", "addr", tailMetricsAddr, "error", err)
				}
			}()
			defer srv.Close()
		}

		c := chatsync.NewRealtimeClient(cfg, opts...)
		defer c.Disconnect()

		filter := make(map[chatsync.EventType]bool, len(tailTypes))
		for _, t := range tailTypes {
			filter[chatsync.EventType(t)] = true
		}
		out := cmd.OutOrStdout()
		c.OnAny(func(env chatsync.Envelope) {
			if len(filter) > 0 && !filter[env.Type] {
				return
			}
			payload := env.Payload
			if len(payload) == 0 {
				payload = []byte("null")
			}
			fmt.Fprintf(out, "%s %s %s\n", time.Now().Format(time.RFC3339), env.Type, payload)
		})

		failed := make(chan chatsync.FailedPayload, 1)
		c.OnReconnecting(func(p chatsync.ReconnectingPayload) {
			fmt.Fprintf(os.Stderr, "reconnecting (attempt %d/%d) in %s\n", p.Attempt, p.MaxAttempts, p.Delay)
		})
		c.OnFailed(func(p chatsync.FailedPayload) {
			select {
			case failed <- p:
			default:
			}
		})

		if err := c.Connect(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case p := <-failed:
			return fmt.Errorf("giving up after %d reconnect attempts", p.Attempts)
		}
	},
}
