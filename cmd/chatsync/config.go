package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/Prismer-AI/Prismer/sdk/chatsync"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// ============================================================================
// Effective configuration
// ============================================================================

const envPrefix = "CHATSYNC_"

// Where a setting's value came from, lowest precedence first.
const (
	sourceDefault = "default"
	sourceFile    = "file"
	sourceDotEnv  = ".env"
	sourceEnv     = "env"
)

// setting describes one client option as shown by `config show`.
type setting struct {
	Key    string // dot-notation key, or the lowercase variable suffix for env-only options
	Env    string // variable name without prefix
	Value  string
	Source string
}

type knownSetting struct {
	key    string
	env    string
	inFile func(*Config) bool
	value  func(*chatsync.Config) string
}

var knownSettings = []knownSetting{
	{"default.url", "URL", func(f *Config) bool { return f.Default.URL != "" },
		func(c *chatsync.Config) string { return c.URL }},
	{"default.user_id", "USER_ID", func(f *Config) bool { return f.Default.UserID != "" },
		func(c *chatsync.Config) string { return valueOrDefault(c.UserID, "(not set)") }},
	{"auth.token", "TOKEN", func(f *Config) bool { return f.Auth.Token != "" },
		func(c *chatsync.Config) string {
			if c.Token == "" {
				return "(not set)"
			}
			return maskKey(c.Token)
		}},
	{"default.debug", "DEBUG", func(f *Config) bool { return f.Default.Debug },
		func(c *chatsync.Config) string { return strconv.FormatBool(c.Debug) }},
	{"heartbeat_interval", "HEARTBEAT_INTERVAL", nil,
		func(c *chatsync.Config) string { return c.HeartbeatInterval.String() }},
	{"pong_timeout", "PONG_TIMEOUT", nil,
		func(c *chatsync.Config) string { return c.PongTimeout.String() }},
	{"reconnect_base_delay", "RECONNECT_BASE_DELAY", nil,
		func(c *chatsync.Config) string { return c.ReconnectBaseDelay.String() }},
	{"reconnect_max_delay", "RECONNECT_MAX_DELAY", nil,
		func(c *chatsync.Config) string { return c.ReconnectMaxDelay.String() }},
	{"max_reconnect_attempts", "MAX_RECONNECT_ATTEMPTS", nil,
		func(c *chatsync.Config) string { return strconv.Itoa(c.MaxReconnectAttempts) }},
	{"dial_timeout", "DIAL_TIMEOUT", nil,
		func(c *chatsync.Config) string { return c.DialTimeout.String() }},
	{"write_timeout", "WRITE_TIMEOUT", nil,
		func(c *chatsync.Config) string { return c.WriteTimeout.String() }},
	{"max_queue_size", "MAX_QUEUE_SIZE", nil,
		func(c *chatsync.Config) string { return strconv.Itoa(c.MaxQueueSize) }},
	{"read_limit", "READ_LIMIT", nil,
		func(c *chatsync.Config) string { return strconv.FormatInt(c.ReadLimit, 10) }},
	{"idle_timeout", "IDLE_TIMEOUT", nil,
		func(c *chatsync.Config) string { return c.IdleTimeout.String() }},
	{"typing_window", "TYPING_WINDOW", nil,
		func(c *chatsync.Config) string { return c.TypingWindow.String() }},
	{"typing_throttle", "TYPING_THROTTLE", nil,
		func(c *chatsync.Config) string { return c.TypingThrottle.String() }},
}

// resolveConfig layers the config file, the dotenv file and CHATSYNC_*
// variables (highest) over the client defaults, and records where each
// value came from. Variables already in the environment are not replaced by
// the dotenv file.
func resolveConfig(dotenvPath string) (*chatsync.Config, []setting, error) {
	inEnv := make(map[string]bool, len(knownSettings))
	for _, ks := range knownSettings {
		_, inEnv[ks.env] = os.LookupEnv(envPrefix + ks.env)
	}
	if err := godotenv.Load(dotenvPath); err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("cannot load %s: %w", dotenvPath, err)
	}

	file, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := &chatsync.Config{
		URL:    file.Default.URL,
		Token:  file.Auth.Token,
		UserID: file.Default.UserID,
		Debug:  file.Default.Debug,
	}
	if err := cfg.LoadEnv(); err != nil {
		return nil, nil, err
	}

	settings := make([]setting, 0, len(knownSettings))
	for _, ks := range knownSettings {
		src := sourceDefault
		_, nowSet := os.LookupEnv(envPrefix + ks.env)
		switch {
		case inEnv[ks.env]:
			src = sourceEnv
		case nowSet:
			src = sourceDotEnv
		case ks.inFile != nil && ks.inFile(file):
			src = sourceFile
		}
		settings = append(settings, setting{Key: ks.key, Env: ks.env, Value: ks.value(cfg), Source: src})
	}
	return cfg, settings, nil
}

// ============================================================================
// Commands
// ============================================================================

var configShowRaw bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configShowCmd.Flags().BoolVar(&configShowRaw, "raw", false, "print the config file as stored")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage chatsync configuration",
	Long:  "View or modify the chatsync CLI configuration stored in ~/.chatsync/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration and where each value comes from",
	Long: "Print every client setting after merging defaults, ~/.chatsync/config.toml, ./.env and\n" +
		"CHATSYNC_* variables, in that order of precedence. The token is masked.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configShowRaw {
			return printRawConfig()
		}
		_, settings, err := resolveConfig(".env")
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, s := range settings {
			fmt.Fprintf(out, "%-24s %-28s [%s]\n", s.Key, s.Value, s.Source)
		}
		return nil
	},
}

func printRawConfig() error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		fmt.Println("No configuration file found. Run 'chatsync init <url>' to create one.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot read config file: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a value in the config file",
	Long: "Set a file-backed value using dot notation: default.url, default.user_id,\n" +
		"default.debug or auth.token. Other settings come from CHATSYNC_* variables.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		shown := value
		if key == "auth.token" {
			shown = maskKey(value)
		}
		fmt.Printf("Set %s = %s\n", key, shown)
		if _, overridden := os.LookupEnv(envPrefix + envNameForKey(key)); overridden {
			fmt.Printf("Note: %s%s is set and takes precedence.\n", envPrefix, envNameForKey(key))
		}
		return nil
	},
}

func envNameForKey(key string) string {
	for _, ks := range knownSettings {
		if ks.key == key {
			return ks.env
		}
	}
	return ""
}
