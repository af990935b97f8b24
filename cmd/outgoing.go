package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dhcgn/mailclient/action"
	"github.com/dhcgn/mailclient/config"
	"github.com/dhcgn/mailclient/filter"
	"github.com/dhcgn/mailclient/model"
	"github.com/dhcgn/mailclient/selection"
)

// outgoing is the configuration shared by reply and forward.
type outgoing struct {
	v      *viper.Viper
	smtp   config.SMTP
	send   config.Send
	pw     config.Passwords
	sender string
	to     []string
	cc     []string
	bcc    []string
}

func registerOutgoingFlags(cmd *cobra.Command) {
	config.RegisterMailFlags(cmd)
	config.RegisterSMTPFlags(cmd)
	config.RegisterSelectionFlags(cmd)
	config.RegisterActionFlags(cmd)
	config.RegisterSendFlags(cmd)
	cmd.Flags().Bool("pop3-delete", false, "Delete selected messages from the server after their actions (POP3 only)")
}

// loadOutgoing reads the SMTP and composing flags. args are the sender
// followed by the recipients.
func loadOutgoing(cmd *cobra.Command, args []string, logger *slog.Logger) (*outgoing, error) {
	v, err := config.Bind(cmd)
	if err != nil {
		return nil, err
	}
	s, err := config.LoadSMTP(v)
	if err != nil {
		return nil, err
	}
	send, err := config.LoadSend(v)
	if err != nil {
		return nil, err
	}
	pw := passwords(logger)
	if s.Password, err = resolveSMTPPassword(pw, s); err != nil {
		return nil, err
	}
	return &outgoing{v: v, smtp: s, send: send, pw: pw, sender: args[0], to: args[1:], cc: send.Cc, bcc: send.Bcc}, nil
}

// selectMessages reads the source store. The mail account defaults to the
// SMTP account. An unreachable store yields no messages instead of an error
// so that the caller ends with "nothing to do".
func (o *outgoing) selectMessages(ctx context.Context, logger *slog.Logger) ([]model.MessageRecord, error) {
	fallbacks := map[string]string{
		"mail-host":     o.smtp.Host,
		"mail-username": o.smtp.Username,
		"mail-password": o.smtp.Password,
	}
	for key, value := range fallbacks {
		if o.v.GetString(key) == "" && value != "" {
			o.v.Set(key, value)
		}
	}

	mail, err := config.LoadMail(o.v)
	if err != nil {
		return nil, err
	}
	if mail.Password, err = resolveMailPassword(o.pw, mail); err != nil {
		return nil, err
	}
	sel, err := config.LoadSelection(o.v)
	if err != nil {
		return nil, err
	}
	f, err := filter.New(sel.Filter)
	if err != nil {
		return nil, fmt.Errorf("create filter: %w", err)
	}
	pipeline, err := action.New(config.LoadActions(o.v), logger)
	if err != nil {
		return nil, err
	}

	del := o.v.GetBool("pop3-delete")
	if del && mail.Protocol != model.ProtocolPOP3 {
		logger.Warn("--pop3-delete only applies to pop3, ignoring", "protocol", mail.Protocol)
		del = false
	}

	logger.Info("fetching messages", "protocol", mail.Protocol, "host", mail.Host, "path", mail.Path)
	res, err := selection.Run(ctx, mail.Options(), selection.Options{
		Query:   sel.Query,
		Filter:  f,
		Actions: pipeline,
		Delete:  del,
	}, logger)
	if err != nil {
		logger.Error("could not read messages", "protocol", mail.Protocol, "err", err)
		return nil, nil
	}
	return res.Records, nil
}

// expand applies --use-regex to the recipient lists once.
func (o *outgoing) expand(ctx context.Context, logger *slog.Logger) error {
	to, cc, bcc, err := expandRecipients(ctx, o.send, o.smtp, o.sender, o.to, logger)
	if err != nil {
		return err
	}
	o.to, o.cc, o.bcc = to, cc, bcc
	return nil
}
