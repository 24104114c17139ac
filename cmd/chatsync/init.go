package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var (
	initUserID string
	initToken  string
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initUserID, "user-id", "", "local user id")
	initCmd.Flags().StringVar(&initToken, "token", "", "auth token sent when connecting")
}

var initCmd = &cobra.Command{
	Use:   "init <url>",
	Short: "Store the server endpoint in ~/.chatsync/config.toml",
	Long:  "Initialize the chatsync CLI by storing the WebSocket endpoint (and optionally your identity) in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := url.Parse(args[0])
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("endpoint must be a ws:// or wss:// url, got %q", args[0])
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Default.URL = u.String()
		if initUserID != "" {
			cfg.Default.UserID = initUserID
		}
		if initToken != "" {
			cfg.Auth.Token = initToken
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Endpoint saved to %s\n", path)
		return nil
	},
}
