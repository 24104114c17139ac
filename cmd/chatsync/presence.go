package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Prismer-AI/Prismer/sdk/chatsync"
	"github.com/spf13/cobra"
)

var (
	presenceCustom  string
	presenceTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(presenceCmd)
	presenceCmd.Flags().StringVar(&presenceCustom, "custom", "", "custom status text")
	presenceCmd.Flags().DurationVar(&presenceTimeout, "timeout", 5*time.Second, "how long to wait for the update to be written")
}

var presenceCmd = &cobra.Command{
	Use:       "presence <online|idle|dnd|offline>",
	Short:     "Set your presence",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"online", "idle", "dnd", "offline"},
	RunE: func(cmd *cobra.Command, args []string) error {
		status := chatsync.PresenceStatus(args[0])
		if !status.Valid() {
			return fmt.Errorf("invalid status %q (valid: online, idle, dnd, offline)", args[0])
		}

		cfg, err := clientConfig()
		if err != nil {
			return err
		}
		if err := requireUser(cfg); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), presenceTimeout)
		defer cancel()

		// One update, then exit: a bare client and store are enough.
		c := chatsync.NewRealtimeClient(cfg)
		defer c.Disconnect()
		clientCfg := c.Config()
		clock := chatsync.SystemClock{}
		store := chatsync.NewPresenceStore(chatsync.NewActions(c, &clientCfg, clock), clock)

		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		var custom *string
		if presenceCustom != "" {
			custom = &presenceCustom
		}
		if err := store.SetLocal(status, custom); err != nil {
			return fmt.Errorf("failed to set presence: %w", err)
		}
		if err := drain(ctx, c); err != nil {
			return err
		}
		fmt.Printf("Presence set to %s\n", status)
		return nil
	},
}
