package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dhcgn/mailclient/compose"
	"github.com/dhcgn/mailclient/config"
	"github.com/dhcgn/mailclient/credential"
	"github.com/dhcgn/mailclient/directory"
	"github.com/dhcgn/mailclient/smtp"
)

var errNoRecipients = errors.New("no recipients left to send to")

var sendCmd = &cobra.Command{
	Use:   "send <sender> <recipient>...",
	Short: "Compose and send an email",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSend,
}

func init() {
	config.RegisterMailFlags(sendCmd)
	config.RegisterSMTPFlags(sendCmd)
	config.RegisterSendFlags(sendCmd)
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	ctx := cmd.Context()

	v, err := config.Bind(cmd)
	if err != nil {
		return err
	}
	smtpCfg, err := config.LoadSMTP(v)
	if err != nil {
		return err
	}
	send, err := config.LoadSend(v)
	if err != nil {
		return err
	}
	pw := passwords(logger)
	if smtpCfg.Password, err = resolveSMTPPassword(pw, smtpCfg); err != nil {
		return err
	}

	sender := args[0]
	to, cc, bcc, err := expandRecipients(ctx, send, smtpCfg, sender, args[1:], logger)
	if err != nil {
		return err
	}
	if len(to)+len(cc)+len(bcc) == 0 {
		return errNoRecipients
	}

	d, err := newDispatcher(v, smtpCfg, send, pw, logger)
	if err != nil {
		return err
	}
	return deliver(ctx, d, compose.Options{
		From:           sender,
		To:             to,
		Cc:             cc,
		Subject:        send.Subject,
		Body:           send.Body,
		BodyFile:       send.BodyFile,
		Images:         send.Images,
		Attachments:    send.Attachments,
		Template:       send.Template,
		TemplateParams: send.TemplateParams,
	}, bcc, send, logger)
}

func resolveSMTPPassword(p config.Passwords, s config.SMTP) (string, error) {
	if s.Username == "" {
		return s.Password, nil
	}
	key := credential.Key("smtp", s.Username, s.Host)
	return p.Resolve(s.Password, key, fmt.Sprintf("SMTP password for %s@%s", s.Username, s.Host))
}

// expandRecipients resolves wildcard recipients through the directory API
// when --use-regex is set. The API host defaults to the SMTP host.
func expandRecipients(ctx context.Context, send config.Send, s config.SMTP, sender string, to []string, logger *slog.Logger) ([]string, []string, []string, error) {
	if !send.UseRegex {
		return to, send.Cc, send.Bcc, nil
	}
	host := send.APIHost
	if host == "" {
		host = s.Host
	}
	client := directory.New(host, send.APIPort, s.Timeout, logger)
	to, cc, bcc, err := client.ExpandAll(ctx, to, send.Cc, send.Bcc, sender)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("expand recipients: %w", err)
	}
	return to, cc, bcc, nil
}

func newDispatcher(v *viper.Viper, s config.SMTP, send config.Send, pw config.Passwords, logger *slog.Logger) (*smtp.Dispatcher, error) {
	d := &smtp.Dispatcher{
		SMTP: smtp.Options{
			Host:             s.Host,
			Port:             s.Port,
			Username:         s.Username,
			Password:         s.Password,
			Security:         s.Security,
			AllowInsecureTLS: s.AllowInsecureTLS,
			Timeout:          s.Timeout,
		},
		Folder: send.SentFolder,
		Logger: logger,
	}
	if !send.SaveSent {
		return d, nil
	}

	store := config.SentStore(v, s)
	if store.Username != "" {
		key := credential.Key(string(store.Protocol), store.Username, store.Host)
		password, err := pw.Resolve(store.Password, key, fmt.Sprintf("IMAP password for %s@%s", store.Username, store.Host))
		if err != nil {
			return nil, err
		}
		store.Password = password
	}
	d.Store = store
	return d, nil
}

// deliver builds and sends one message per envelope. A message that cannot
// be built stops the run; failed sends are counted and reported together.
func deliver(ctx context.Context, d *smtp.Dispatcher, opts compose.Options, bcc []string, send config.Send, logger *slog.Logger) error {
	envelopes := compose.Envelopes(opts, bcc, send.SendSeparately)
	failed := 0
	for _, env := range envelopes {
		msg, err := compose.Build(env.Options, logger)
		if err != nil {
			return fmt.Errorf("build message: %w", err)
		}
		res := d.Deliver(ctx, msg, env.Recipients, send.SaveSent)
		if res.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d messages could not be sent", failed, len(envelopes))
	}
	return nil
}
