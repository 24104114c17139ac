package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Prismer-AI/Prismer/sdk/chatsync"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusTimeout time.Duration

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 5*time.Second, "how long to wait for the server")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and try a connection",
	Long:  "Display the effective configuration (file plus CHATSYNC_* environment) and check that the server accepts a connection.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := clientConfig()
		if err != nil {
			return err
		}

		fmt.Println("Configuration:")
		fmt.Printf("  URL:        %s\n", cfg.URL)
		fmt.Printf("  User ID:    %s\n", valueOrDefault(cfg.UserID, "(not set)"))
		if cfg.Token != "" {
			fmt.Printf("  Token:      %s\n", maskKey(cfg.Token))
			if claims, err := tokenClaims(cfg.Token); err == nil {
				if claims.Subject != "" {
					fmt.Printf("  Subject:    %s\n", claims.Subject)
				}
				if claims.ExpiresAt != nil {
					exp := claims.ExpiresAt.Time
					note := ""
					if exp.Before(time.Now()) {
						note = " (EXPIRED)"
					}
					fmt.Printf("  Expires:    %s%s\n", humanize.Time(exp), note)
				}
			}
		} else {
			fmt.Println("  Token:      (not set)")
		}
		fmt.Printf("  Heartbeat:  %s\n", cfg.HeartbeatInterval)
		fmt.Printf("  Reconnect:  %s base, %s cap, %d attempts\n",
			cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay, cfg.MaxReconnectAttempts)
		fmt.Printf("  Queue:      %s commands\n", humanize.Comma(int64(cfg.MaxQueueSize)))
		fmt.Printf("  Read limit: %s\n", humanize.IBytes(uint64(cfg.ReadLimit)))

		fmt.Println()
		fmt.Println("Live status:")

		// One dial only; the reconnect policy is irrelevant here.
		cfg.MaxReconnectAttempts = 1
		c := chatsync.NewRealtimeClient(cfg)
		ready := make(chan string, 1)
		c.OnReady(func(p chatsync.ReadyPayload) {
			select {
			case ready <- p.ConnectionID:
			default:
			}
		})

		ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
		defer cancel()
		start := time.Now()
		if err := c.Connect(ctx); err != nil {
			_ = c.Disconnect()
			fmt.Printf("  Error connecting: %v\n", err)
			return nil
		}
		defer c.Disconnect()
		fmt.Printf("  State:         %s (%s)\n", c.State(), time.Since(start).Round(time.Millisecond))

		select {
		case id := <-ready:
			fmt.Printf("  Connection ID: %s\n", id)
		case <-ctx.Done():
			fmt.Println("  Connection ID: (server sent no connection:ready)")
		}
		return nil
	},
}
