package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// envKeys are the flags that can also be set from the environment. The
// variable name is the flag name upper-cased with dashes as underscores.
var envKeys = []string{
	"log-level", "log-dir",
	"mail-protocol", "mail-host", "mail-port", "mail-username", "mail-password",
	"mail-security", "mail-folder", "mail-path", "mailbox",
	"allow-insecure-tls", "timeout",
	"smtp-host", "smtp-port", "smtp-username", "smtp-password", "smtp-security",
	"api-host", "api-port",
}

// Bind returns a viper instance over cmd's flags. An explicitly set flag
// wins over the environment, which wins over the flag default.
func Bind(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	for _, key := range envKeys {
		if err := v.BindEnv(key, EnvName(key)); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return v, nil
}

// EnvName is the environment variable read for a flag.
func EnvName(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// LoadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
