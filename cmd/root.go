// Package cmd holds the mailclient command tree.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mailclient/config"
	"github.com/dhcgn/mailclient/credential"

	_ "github.com/dhcgn/mailclient/imap"
	_ "github.com/dhcgn/mailclient/maildir"
	_ "github.com/dhcgn/mailclient/mbox"
	_ "github.com/dhcgn/mailclient/pop3"
)

var (
	global   config.Global
	closeLog = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:           "mailclient",
	Short:         "Send, read, reply to and forward email from the command line",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		if !cmd.Flags().Changed("env-file") {
			if p := os.Getenv("ENV_FILE"); p != "" {
				envFile = p
			}
		}
		if err := config.LoadEnvFile(envFile); err != nil {
			return err
		}

		v, err := config.Bind(cmd)
		if err != nil {
			return err
		}
		g, err := config.LoadGlobal(v)
		if err != nil {
			return err
		}

		logger, cleanup, err := setupLogger(g)
		if err != nil {
			return fmt.Errorf("setup logging: %w", err)
		}
		slog.SetDefault(logger)
		global, closeLog = g, cleanup
		logger.Debug("starting mailclient", "command", cmd.Name())
		return nil
	},
}

func init() {
	config.RegisterGlobalFlags(rootCmd)
}

// Execute runs the command tree and closes the log file afterwards.
func Execute() error {
	defer func() {
		_ = closeLog()
	}()
	return rootCmd.Execute()
}

func setupLogger(g config.Global) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch g.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if g.LogDir != "" {
		if err := os.MkdirAll(g.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(g.LogDir, fmt.Sprintf("mailclient-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler), cleanup, nil
}

// passwords resolves missing passwords from the keyring and the terminal
// according to the global flags.
func passwords(logger *slog.Logger) config.Passwords {
	p := config.Passwords{Global: global, Prompt: config.TerminalPrompt}
	if global.UseKeyring {
		store, err := credential.Open()
		if err != nil {
			logger.Warn("keyring unavailable", "err", err)
		} else {
			p.Store = store
		}
	}
	return p
}
