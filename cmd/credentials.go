package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mailclient/config"
	"github.com/dhcgn/mailclient/credential"
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage passwords stored in the OS keyring",
	Long: "Passwords are stored per service (smtp, imap, pop3), username and host and are " +
		"read back when --use-keyring is set.",
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set <service> <username> <host>",
	Short: "Store a password in the keyring",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := credential.Key(args[0], args[1], args[2])
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			var err error
			password, err = config.TerminalPrompt("Password for " + key)
			if err != nil {
				return err
			}
		}
		if password == "" {
			return errors.New("empty password")
		}

		store, err := credential.Open()
		if err != nil {
			return err
		}
		if err := store.Set(key, password); err != nil {
			return err
		}
		slog.Default().Info("password stored", "key", key)
		return nil
	},
}

var credentialsDeleteCmd = &cobra.Command{
	Use:   "delete <service> <username> <host>",
	Short: "Remove a password from the keyring",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := credential.Key(args[0], args[1], args[2])
		store, err := credential.Open()
		if err != nil {
			return err
		}
		if err := store.Delete(key); err != nil {
			if errors.Is(err, credential.ErrNotFound) {
				return fmt.Errorf("no password stored for %s", key)
			}
			return err
		}
		slog.Default().Info("password deleted", "key", key)
		return nil
	},
}

func init() {
	credentialsSetCmd.Flags().String("password", "", "Password to store, prompted for when empty")
	credentialsCmd.AddCommand(credentialsSetCmd, credentialsDeleteCmd)
	rootCmd.AddCommand(credentialsCmd)
}
