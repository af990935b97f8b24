package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mailclient/config"
	"github.com/dhcgn/mailclient/directory"
)

var registerCmd = &cobra.Command{
	Use:   "register <username> <password>",
	Short: "Register a user with the directory API",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		alias, _ := cmd.Flags().GetString("alias")
		return userAdmin(cmd, func(ctx context.Context, c *directory.Client) (map[string]any, error) {
			return c.Register(ctx, args[0], args[1], alias)
		})
	},
}

var deleteUserCmd = &cobra.Command{
	Use:   "delete-user <username>",
	Short: "Delete a user from the directory API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userAdmin(cmd, func(ctx context.Context, c *directory.Client) (map[string]any, error) {
			return c.Delete(ctx, args[0])
		})
	},
}

var passwdCmd = &cobra.Command{
	Use:   "passwd <username> <new-password>",
	Short: "Change a user's password through the directory API",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userAdmin(cmd, func(ctx context.Context, c *directory.Client) (map[string]any, error) {
			return c.UpdatePassword(ctx, args[0], args[1])
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{registerCmd, deleteUserCmd, passwdCmd} {
		c.Flags().String("server", "", "Directory API server address")
		c.Flags().Int("port", directory.DefaultPort, "Directory API server port")
		c.Flags().IntP("timeout", "t", int(config.DefaultTimeout/time.Second), "Request timeout in seconds")
		_ = c.MarkFlagRequired("server")
		rootCmd.AddCommand(c)
	}
	registerCmd.Flags().String("alias", "", "Alias for the registered user")
}

func userAdmin(cmd *cobra.Command, call func(context.Context, *directory.Client) (map[string]any, error)) error {
	server, _ := cmd.Flags().GetString("server")
	port, _ := cmd.Flags().GetInt("port")
	timeout, _ := cmd.Flags().GetInt("timeout")

	client := directory.New(server, port, time.Duration(timeout)*time.Second, slog.Default())
	resp, err := call(cmd.Context(), client)
	if err != nil {
		return err
	}
	return printResponse(cmd.OutOrStdout(), resp)
}

func printResponse(w io.Writer, resp map[string]any) error {
	if len(resp) == 0 {
		return nil
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
