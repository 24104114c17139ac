package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Prismer-AI/Prismer/sdk/chatsync"
	"github.com/spf13/cobra"
)

var sendTimeout time.Duration

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "how long to wait for the server echo")
}

var sendCmd = &cobra.Command{
	Use:   "send <channel> <text>",
	Short: "Send a message and wait for the server to confirm it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := clientConfig()
		if err != nil {
			return err
		}
		if err := requireUser(cfg); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
		defer cancel()

		s := chatsync.NewSession(cfg)
		defer s.Close()

		changes, stop := s.Timeline.Watch()
		defer stop()

		if err := s.Start(ctx); err != nil {
			fmt.Printf("Not connected yet (%v); the message is queued.\n", err)
		}
		draft, err := s.Timeline.Submit(chatsync.Draft{ChannelID: args[0], Content: args[1]})
		if err != nil {
			return fmt.Errorf("failed to send: %w", err)
		}
		fmt.Printf("Submitted %s\n", draft.TempID)

		for {
			for _, m := range s.Timeline.Messages(args[0]) {
				if m.TempID != draft.TempID {
					continue
				}
				switch m.Status {
				case chatsync.StatusNormal:
					fmt.Printf("Delivered as %s\n", m.ID)
					return nil
				case chatsync.StatusFailed:
					return fmt.Errorf("message %s failed", draft.TempID)
				}
			}
			select {
			case <-changes:
			case <-ctx.Done():
				return fmt.Errorf("no confirmation for %s: %w", draft.TempID, ctx.Err())
			}
		}
	},
}
