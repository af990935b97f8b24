package pop3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	gopop3 "github.com/knadh/go-pop3"

	"github.com/dhcgn/mailclient/mailbox"
	"github.com/dhcgn/mailclient/model"
)

func init() {
	mailbox.Register(model.ProtocolPOP3, func(ctx context.Context, opts mailbox.Options, logger *slog.Logger) (mailbox.Source, error) {
		return Dial(ctx, opts, logger)
	})
}

// conn is the subset of the POP3 client used here.
type conn interface {
	Uidl(msgID int) ([]gopop3.MessageID, error)
	List(msgID int) ([]gopop3.MessageID, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
	Dele(msgID ...int) error
	Quit() error
}

// Source reads a POP3 maildrop.
type Source struct {
	conn   conn
	logger *slog.Logger
}

// Dial connects and authenticates.
func Dial(ctx context.Context, opts mailbox.Options, logger *slog.Logger) (*Source, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("pop3 host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("pop3 port must be positive")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d := &dialer{timeout: opts.Timeout}
	clientOpts := gopop3.Opt{
		Host:        opts.Host,
		Port:        opts.Port,
		DialTimeout: opts.Timeout,
		Dialer:      d,
	}
	switch opts.Security {
	case model.SecuritySSL:
		tlsConfig := mailbox.TLSConfig(opts.Host, opts.AllowInsecureTLS, logger)
		clientOpts.TLSEnabled = true
		clientOpts.TLSSkipVerify = tlsConfig.InsecureSkipVerify
	case model.SecuritySTARTTLS:
		d.startTLS = mailbox.TLSConfig(opts.Host, opts.AllowInsecureTLS, logger)
	}

	c, err := gopop3.New(clientOpts).NewConn()
	if err != nil {
		return nil, fmt.Errorf("dial pop3 %s:%d: %w", opts.Host, opts.Port, err)
	}

	if opts.Username != "" {
		if err := c.Auth(opts.Username, opts.Password); err != nil {
			_ = c.Quit()
			return nil, fmt.Errorf("pop3 login failed: %w", err)
		}
	}

	if logger != nil {
		logger.Debug("pop3 connection established", "host", opts.Host, "port", opts.Port, "user", opts.Username, "security", opts.Security)
	}
	return &Source{conn: c, logger: logger}, nil
}

func (s *Source) Protocol() model.Protocol { return model.ProtocolPOP3 }

func (s *Source) Capabilities() mailbox.Capabilities { return mailbox.Capabilities{} }

// Enumerate lists the maildrop with UIDL, falling back to LIST with
// synthesized "msg-<n>" ids. The maildrop is oldest first; "newest"
// reverses it.
func (s *Source) Enumerate(ctx context.Context, q mailbox.Query) ([]model.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	refs, err := s.uidl()
	if err != nil {
		if s.logger != nil {
			s.logger.Debug("pop3 UIDL unavailable, falling back to LIST", "err", err)
		}
		refs, err = s.list()
		if err != nil {
			return nil, fmt.Errorf("pop3 list: %w", err)
		}
	}

	total := len(refs)
	if q.Sort == model.SortNewest {
		refs = mailbox.Reverse(refs)
	}
	refs = mailbox.Narrow(refs, q.Limit, q.RandomPick, q.Rand)

	if s.logger != nil {
		s.logger.Info("pop3 messages found", "candidates", total, "selected", len(refs))
	}
	return refs, nil
}

func (s *Source) uidl() ([]model.MessageRef, error) {
	ids, err := s.conn.Uidl(0)
	if err != nil {
		return nil, err
	}
	refs := make([]model.MessageRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, model.MessageRef{ID: id.UID, Index: id.ID})
	}
	return refs, nil
}

func (s *Source) list() ([]model.MessageRef, error) {
	ids, err := s.conn.List(0)
	if err != nil {
		return nil, err
	}
	refs := make([]model.MessageRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, model.MessageRef{ID: fmt.Sprintf("msg-%d", id.ID), Index: id.ID})
	}
	return refs, nil
}

// Fetch issues RETR for the ref's ordinal.
func (s *Source) Fetch(ctx context.Context, ref model.MessageRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref.Index <= 0 {
		return nil, fmt.Errorf("%w: %+v", mailbox.ErrInvalidRef, ref)
	}
	buf, err := s.conn.RetrRaw(ref.Index)
	if err != nil {
		return nil, fmt.Errorf("pop3 retr %d: %w", ref.Index, err)
	}
	return buf.Bytes(), nil
}

// Delete marks the message for deletion; the server removes it on QUIT.
func (s *Source) Delete(ctx context.Context, ref model.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ref.Index <= 0 {
		return fmt.Errorf("%w: %+v", mailbox.ErrInvalidRef, ref)
	}
	if err := s.conn.Dele(ref.Index); err != nil {
		return fmt.Errorf("pop3 dele %d: %w", ref.Index, err)
	}
	return nil
}

// Close sends QUIT. A failure is logged only.
func (s *Source) Close() error {
	if err := s.conn.Quit(); err != nil && s.logger != nil && !errors.Is(err, errClosed) {
		s.logger.Warn("pop3 quit failed", "err", err)
	}
	return nil
}
