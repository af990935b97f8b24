package maildir

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-maildir"

	"github.com/dhcgn/mailclient/mailbox"
	"github.com/dhcgn/mailclient/model"
)

func init() {
	mailbox.Register(model.ProtocolMaildir, func(ctx context.Context, opts mailbox.Options, logger *slog.Logger) (mailbox.Source, error) {
		return Open(opts.Path, logger)
	})
}

// Source reads a local Maildir. Fetching a message marks it seen.
type Source struct {
	dir    maildir.Dir
	logger *slog.Logger
}

// Open checks that path holds a Maildir (cur/ present).
func Open(path string, logger *slog.Logger) (*Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("maildir path is empty")
	}
	if _, err := os.Stat(filepath.Join(path, "cur")); err != nil {
		return nil, fmt.Errorf("open maildir %s: %w", path, err)
	}
	return &Source{dir: maildir.Dir(path), logger: logger}, nil
}

func (s *Source) Protocol() model.Protocol { return model.ProtocolMaildir }

func (s *Source) Capabilities() mailbox.Capabilities { return mailbox.Capabilities{} }

type entry struct {
	key     string
	modTime time.Time
}

// Enumerate returns messages by delivery time, oldest first; "newest"
// reverses that, as for POP3. Without IncludeSeen only messages lacking
// the S flag are listed.
func (s *Source) Enumerate(ctx context.Context, q mailbox.Query) ([]model.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Unseen moves new/ into cur/ so Messages sees everything.
	if _, err := s.dir.Unseen(); err != nil {
		return nil, fmt.Errorf("maildir scan new: %w", err)
	}
	msgs, err := s.dir.Messages()
	if err != nil {
		return nil, fmt.Errorf("maildir list: %w", err)
	}

	entries := make([]entry, 0, len(msgs))
	for _, msg := range msgs {
		if !q.IncludeSeen && slices.Contains(msg.Flags(), maildir.FlagSeen) {
			continue
		}
		fi, err := os.Stat(msg.Filename())
		if err != nil {
			continue
		}
		entries = append(entries, entry{key: msg.Key(), modTime: fi.ModTime()})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].modTime.Equal(entries[j].modTime) {
			return entries[i].key < entries[j].key
		}
		return entries[i].modTime.Before(entries[j].modTime)
	})

	refs := make([]model.MessageRef, 0, len(entries))
	for i, e := range entries {
		refs = append(refs, model.MessageRef{ID: e.key, Index: i + 1})
	}

	total := len(refs)
	if q.Sort == model.SortNewest {
		refs = mailbox.Reverse(refs)
	}
	refs = mailbox.Narrow(refs, q.Limit, q.RandomPick, q.Rand)

	if s.logger != nil {
		s.logger.Info("maildir messages found", "path", string(s.dir), "candidates", total, "selected", len(refs))
	}
	return refs, nil
}

func (s *Source) Fetch(ctx context.Context, ref model.MessageRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref.ID == "" {
		return nil, fmt.Errorf("%w: empty key", mailbox.ErrInvalidRef)
	}

	msg, err := s.dir.MessageByKey(ref.ID)
	if err != nil {
		return nil, fmt.Errorf("maildir message %s: %w", ref.ID, err)
	}
	rc, err := msg.Open()
	if err != nil {
		return nil, fmt.Errorf("maildir open %s: %w", ref.ID, err)
	}
	raw, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return nil, fmt.Errorf("maildir read %s: %w", ref.ID, err)
	}

	flags := msg.Flags()
	if !slices.Contains(flags, maildir.FlagSeen) {
		if err := msg.SetFlags(append(flags, maildir.FlagSeen)); err != nil && s.logger != nil {
			s.logger.Warn("maildir mark seen failed", "key", ref.ID, "err", err)
		}
	}
	return raw, nil
}

func (s *Source) Close() error { return nil }
