package smtp

import (
	"context"
	"log/slog"

	"github.com/dhcgn/mailclient/compose"
	"github.com/dhcgn/mailclient/imap"
	"github.com/dhcgn/mailclient/mailbox"
)

// Delivery is the outcome of one Deliver call.
type Delivery struct {
	MessageID  string
	Recipients []string
	Sent       bool
	Saved      bool
	Err        error
	SaveErr    error
}

// Dispatcher sends messages and optionally appends a copy to an IMAP folder.
type Dispatcher struct {
	SMTP Options
	// Store is the IMAP account that receives sent copies.
	Store  mailbox.Options
	Folder string
	Logger *slog.Logger

	send func(ctx context.Context, opts Options, from string, recipients []string, raw []byte, logger *slog.Logger) error
	save func(ctx context.Context, opts mailbox.Options, folder string, raw []byte, logger *slog.Logger) error
}

// Deliver sends msg and, when saveSent is set and the send succeeded, saves a
// copy. A failed save does not undo a successful send.
func (d *Dispatcher) Deliver(ctx context.Context, msg *compose.Message, recipients []string, saveSent bool) Delivery {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	send, save := d.send, d.save
	if send == nil {
		send = Send
	}
	if save == nil {
		save = imap.Append
	}

	res := Delivery{MessageID: msg.MessageID, Recipients: recipients}
	if err := send(ctx, d.SMTP, msg.From, recipients, msg.Raw, logger); err != nil {
		res.Err = err
		logger.Error("failed to send email", "messageId", msg.MessageID, "recipients", recipients, "err", err)
		return res
	}
	res.Sent = true
	logger.Info("email sent", "messageId", msg.MessageID, "subject", msg.Subject, "recipients", recipients)

	if !saveSent {
		return res
	}
	if err := save(ctx, d.Store, d.Folder, msg.Raw, logger); err != nil {
		res.SaveErr = err
		logger.Error("failed to save sent email", "folder", d.Folder, "err", err)
		return res
	}
	res.Saved = true
	return res
}
