package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort = "8080"

	errLoggerKey = "err"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:          "wingman",
		Short:        "wingman - AI dating assistant chat",
		SilenceUsage: true,
	}

	root.PersistentFlags().String(
		"config",
		"",
		"config file (default: <user config dir>/wingman/config.yaml)",
	)
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))

	// WINGMAN_CONFIG, WINGMAN_LOG_LEVEL, WINGMAN_PORT and WINGMAN_GATEWAY_TOKEN.
	v.SetEnvPrefix("WINGMAN")
	v.AutomaticEnv()

	root.AddCommand(newServeCmd(v))
	root.AddCommand(newChatCmd(v))
	root.AddCommand(newVersionCmd())
	return root
}

// loadConfig decodes the config file and applies the flag and environment overrides held by v.
func loadConfig(v *viper.Viper) (config, error) {
	path := v.GetString("config")
	if path == "" {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return config{}, fmt.Errorf("error getting user config dir: %w", err)
		}
		path = filepath.Join(cfgDir, "wingman", "config.yaml")
	}

	cfgFile, err := os.Open(path)
	if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	cfg, err := decodeConfig(cfgFile)
	if err != nil {
		return config{}, err
	}
	cfg.dir = filepath.Dir(path)

	if port := v.GetString("port"); port != "" {
		cfg.Port = port
	}
	if level := v.GetString("log_level"); level != "" {
		cfg.LogLevel = level
	}
	if token := v.GetString("gateway_token"); token != "" {
		cfg.setGatewayToken(token)
	}
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}

	return cfg, nil
}

func decodeConfig(r io.Reader) (config, error) {
	cfg := config{}
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
