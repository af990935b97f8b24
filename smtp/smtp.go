// Package smtp submits composed messages and keeps a copy in the sent folder.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/dhcgn/mailclient/mailbox"
	"github.com/dhcgn/mailclient/model"
)

var (
	ErrNoRecipients = errors.New("no recipients")
	ErrAuth         = errors.New("smtp authentication failed")
)

type Options struct {
	Host             string
	Port             int
	Username         string
	Password         string
	Security         model.Security
	AllowInsecureTLS bool
	Timeout          time.Duration
}

// Send delivers raw to every recipient in a single SMTP transaction.
func Send(ctx context.Context, opts Options, from string, recipients []string, raw []byte, logger *slog.Logger) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c, err := dial(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if opts.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", opts.Username, opts.Password)); err != nil {
			return fmt.Errorf("%w: %w", ErrAuth, err)
		}
	}

	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if err := c.Quit(); err != nil {
		logger.Warn("smtp quit failed", "err", err)
	}

	logger.Debug("smtp message submitted", "from", from, "recipients", len(recipients), "size", len(raw))
	return nil
}

func dial(ctx context.Context, opts Options, logger *slog.Logger) (*gosmtp.Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("smtp host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("smtp port must be positive")
	}

	address := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	dialer := &net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial smtp %s: %w", address, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var c *gosmtp.Client
	switch opts.Security {
	case model.SecuritySSL:
		tlsConn := tls.Client(conn, mailbox.TLSConfig(opts.Host, opts.AllowInsecureTLS, logger))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("smtp tls handshake: %w", err)
		}
		c = gosmtp.NewClient(tlsConn)
	case model.SecuritySTARTTLS:
		c, err = gosmtp.NewClientStartTLS(conn, mailbox.TLSConfig(opts.Host, opts.AllowInsecureTLS, logger))
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("smtp starttls: %w", err)
		}
	default:
		c = gosmtp.NewClient(conn)
	}

	if opts.Timeout > 0 {
		c.CommandTimeout = opts.Timeout
		c.SubmissionTimeout = opts.Timeout
	}
	return c, nil
}
