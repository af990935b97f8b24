package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/mailclient/mailbox"
	"github.com/dhcgn/mailclient/model"
)

var (
	ErrMessageNotFound = errors.New("imap message not found")
)

func init() {
	mailbox.Register(model.ProtocolIMAP, func(ctx context.Context, opts mailbox.Options, logger *slog.Logger) (mailbox.Source, error) {
		return Dial(ctx, opts, logger)
	})
}

// session is an authenticated connection with its teardown.
type session struct {
	client  *imapclient.Client
	conn    net.Conn
	timeout time.Duration
	logger  *slog.Logger
	cleanup func()
}

func connect(ctx context.Context, opts mailbox.Options, logger *slog.Logger) (*session, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}

	address := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	dialer := &net.Dialer{Timeout: opts.Timeout}
	options := &imapclient.Options{}
	if opts.Security != model.SecurityNone {
		options.TLSConfig = mailbox.TLSConfig(opts.Host, opts.AllowInsecureTLS, logger)
	}

	var (
		conn net.Conn
		err  error
	)
	if opts.Security == model.SecuritySSL {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: options.TLSConfig}
		conn, err = tlsDialer.DialContext(ctx, "tcp", address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	s := &session{conn: conn, timeout: opts.Timeout, logger: logger}
	release := s.deadline()

	if opts.Security == model.SecuritySTARTTLS {
		s.client, err = imapclient.NewStartTLS(conn, options)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("imap starttls: %w", err)
		}
	} else {
		s.client = imapclient.New(conn, options)
	}

	if opts.Username != "" {
		if err := s.client.Login(opts.Username, opts.Password).Wait(); err != nil {
			_ = s.client.Close()
			return nil, fmt.Errorf("imap login failed: %w", err)
		}
	}
	release()

	if logger != nil {
		logger.Debug("imap connection established", "address", address, "user", opts.Username, "security", opts.Security)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = s.client.Close()
	})

	s.cleanup = func() {
		stopClose()
		if ctx.Err() == nil {
			release := s.deadline()
			if err := s.client.Logout().Wait(); err != nil && logger != nil {
				logger.Warn("imap logout failed", "err", err)
			}
			release()
		}
		if err := s.client.Close(); err != nil && logger != nil {
			logger.Debug("imap connection closed", "err", err)
		}
	}

	return s, nil
}

// deadline bounds the next round trip by the configured timeout and
// returns a func that lifts the bound again.
func (s *session) deadline() func() {
	if s.timeout <= 0 {
		return func() {}
	}
	_ = s.conn.SetDeadline(time.Now().Add(s.timeout))
	return func() {
		_ = s.conn.SetDeadline(time.Time{})
	}
}

// Append stores raw in folder, creating the folder when it does not exist.
func Append(ctx context.Context, opts mailbox.Options, folder string, raw []byte, logger *slog.Logger) error {
	s, err := connect(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer s.cleanup()

	if folder == "" {
		folder = "Sent"
	}
	if err := s.ensureMailbox(folder); err != nil {
		return err
	}
	if err := s.appendMessage(folder, raw, time.Now()); err != nil {
		return fmt.Errorf("append to %s: %w", folder, err)
	}
	if logger != nil {
		logger.Info("message saved", "mailbox", folder, "size", len(raw))
	}
	return nil
}

func (s *session) appendMessage(folder string, raw []byte, at time.Time) error {
	release := s.deadline()
	defer release()

	var opts *imapv2.AppendOptions
	if !at.IsZero() {
		opts = &imapv2.AppendOptions{Time: at}
	}

	cmd := s.client.Append(folder, int64(len(raw)), opts)

	remaining := raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}

	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append wait: %w", err)
	}

	return nil
}

func (s *session) ensureMailbox(name string) error {
	release := s.deadline()
	defer release()

	if err := s.client.Create(name, nil).Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) && respErr.Code == imapv2.ResponseCodeAlreadyExists {
			if s.logger != nil {
				s.logger.Debug("imap mailbox already exists", "mailbox", name)
			}
			return nil
		}
		return fmt.Errorf("ensure mailbox %s: %w", name, err)
	}

	if s.logger != nil {
		s.logger.Info("imap mailbox created", "mailbox", name)
	}
	return nil
}
