package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"strings"
	"sync"
	"time"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mailclient/mailbox"
	"github.com/dhcgn/mailclient/message"
	"github.com/dhcgn/mailclient/model"
)

func init() {
	mailbox.Register(model.ProtocolMbox, func(ctx context.Context, opts mailbox.Options, logger *slog.Logger) (mailbox.Source, error) {
		return Open(opts.Path, logger)
	})
}

// Source serves the messages of an mbox file. The file is read once, on
// the first Enumerate.
type Source struct {
	path   string
	logger *slog.Logger

	once     sync.Once
	loadErr  error
	messages [][]byte
}

func Open(path string, logger *slog.Logger) (*Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	return &Source{path: path, logger: logger}, nil
}

func (s *Source) Protocol() model.Protocol { return model.ProtocolMbox }

func (s *Source) Capabilities() mailbox.Capabilities { return mailbox.Capabilities{} }

// Enumerate lists the file in storage order; "newest" reverses it.
// An mbox has no seen flag, so IncludeSeen has no effect.
func (s *Source) Enumerate(ctx context.Context, q mailbox.Query) ([]model.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.once.Do(func() {
		s.loadErr = Read(ctx, s.path, func(raw []byte) error {
			s.messages = append(s.messages, raw)
			return nil
		})
	})
	if s.loadErr != nil {
		return nil, s.loadErr
	}

	refs := make([]model.MessageRef, 0, len(s.messages))
	for i := range s.messages {
		refs = append(refs, model.MessageRef{ID: fmt.Sprintf("mbox-%d", i+1), Index: i + 1})
	}
	if q.Sort == model.SortNewest {
		refs = mailbox.Reverse(refs)
	}
	refs = mailbox.Narrow(refs, q.Limit, q.RandomPick, q.Rand)

	if s.logger != nil {
		s.logger.Info("mbox messages found", "path", s.path, "candidates", len(s.messages), "selected", len(refs))
	}
	return refs, nil
}

func (s *Source) Fetch(ctx context.Context, ref model.MessageRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref.Index <= 0 || ref.Index > len(s.messages) {
		return nil, fmt.Errorf("%w: %+v", mailbox.ErrInvalidRef, ref)
	}
	return s.messages[ref.Index-1], nil
}

func (s *Source) Close() error { return nil }

// Read opens an mbox file and calls fn with each raw message in order.
// Reading stops at the first error returned by fn.
func Read(ctx context.Context, path string, fn func(raw []byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("mbox message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return fmt.Errorf("mbox message %d read: %w", idx, err)
		}

		if err := fn(raw); err != nil {
			return err
		}
	}
}

// Export appends records to the mbox file at path, creating it when
// missing. Records are written in the given order.
func Export(path string, records []model.MessageRecord) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}

	w := mboxlib.NewWriter(file)
	for _, rec := range records {
		mw, err := w.CreateMessage(envelopeSender(rec), envelopeDate(rec))
		if err != nil {
			_ = file.Close()
			return fmt.Errorf("mbox message %s: %w", rec.ID, err)
		}
		if _, err := mw.Write(rec.Raw); err != nil {
			_ = file.Close()
			return fmt.Errorf("mbox message %s write: %w", rec.ID, err)
		}
	}

	if err := w.Close(); err != nil {
		_ = file.Close()
		return fmt.Errorf("close mbox writer: %w", err)
	}
	return file.Close()
}

func envelopeSender(rec model.MessageRecord) string {
	from := message.BareAddress(rec.From)
	if from == "" || strings.ContainsAny(from, " \t") {
		return "MAILER-DAEMON"
	}
	return from
}

func envelopeDate(rec model.MessageRecord) time.Time {
	if t, err := mail.ParseDate(rec.Date); err == nil {
		return t
	}
	return time.Now()
}
