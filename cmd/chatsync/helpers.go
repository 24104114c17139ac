package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Prismer-AI/Prismer/sdk/chatsync"
	"github.com/golang-jwt/jwt/v5"
)

// clientConfig returns the effective client configuration: defaults, then
// the config file, then ./.env, then CHATSYNC_* variables.
func clientConfig() (*chatsync.Config, error) {
	cfg, _, err := resolveConfig(".env")
	if err != nil {
		return nil, err
	}
	if cfg.Debug && !rootCmd.PersistentFlags().Changed("log-level") {
		if err := setupLogger("debug", logFormat); err != nil {
			return nil, err
		}
	}
	cfg.Logger = slog.Default().With("component", "chatsync")
	return cfg, nil
}

// requireUser fails when no local user id is configured.
func requireUser(cfg *chatsync.Config) error {
	if cfg.UserID == "" {
		return fmt.Errorf("no user id. Run 'chatsync config set default.user_id <id>' first")
	}
	return nil
}

// drain waits until the outbound queue is empty or ctx expires.
func drain(ctx context.Context, c *chatsync.RealtimeClient) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.IsConnected() && c.QueueLen() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d command(s) still queued: %w", c.QueueLen(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// tokenClaims decodes the registered claims of a JWT token without checking
// its signature.
func tokenClaims(token string) (*jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// maskKey shows the first 6 and last 4 characters of a secret.
func maskKey(key string) string {
	if len(key) <= 12 {
		return "****"
	}
	return key[:6] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
