package imap

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	imapv2 "github.com/emersion/go-imap/v2"

	"github.com/dhcgn/mailclient/filter"
	"github.com/dhcgn/mailclient/mailbox"
	"github.com/dhcgn/mailclient/model"
)

// Source reads one selected IMAP mailbox.
type Source struct {
	*session
	mailbox string
}

// Dial connects, authenticates, and selects opts.Mailbox (INBOX when empty).
func Dial(ctx context.Context, opts mailbox.Options, logger *slog.Logger) (*Source, error) {
	s, err := connect(ctx, opts, logger)
	if err != nil {
		return nil, err
	}

	name := opts.Mailbox
	if name == "" {
		name = "INBOX"
	}

	release := s.deadline()
	data, err := s.client.Select(name, nil).Wait()
	release()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("select %s: %w", name, err)
	}
	if logger != nil {
		logger.Debug("imap mailbox selected", "mailbox", name, "messages", data.NumMessages)
	}

	return &Source{session: s, mailbox: name}, nil
}

func (s *Source) Protocol() model.Protocol { return model.ProtocolIMAP }

func (s *Source) Capabilities() mailbox.Capabilities {
	return mailbox.Capabilities{ServerDateFilter: true}
}

// Enumerate runs a single UID SEARCH. The server answers oldest first;
// "oldest" reverses that list and "newest" keeps it.
func (s *Source) Enumerate(ctx context.Context, q mailbox.Query) ([]model.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Debug("imap search", "query", SearchQuery(q))
	}

	release := s.deadline()
	data, err := s.client.UIDSearch(searchCriteria(q), nil).Wait()
	release()
	if err != nil {
		return nil, fmt.Errorf("imap search %s: %w", SearchQuery(q), err)
	}

	uids := data.AllUIDs()
	refs := make([]model.MessageRef, 0, len(uids))
	for _, uid := range uids {
		refs = append(refs, model.MessageRef{ID: strconv.FormatUint(uint64(uid), 10)})
	}

	refs = order(refs, q.Sort)
	refs = mailbox.Narrow(refs, q.Limit, q.RandomPick, q.Rand)

	if s.logger != nil {
		s.logger.Info("imap messages found", "mailbox", s.mailbox, "candidates", len(uids), "selected", len(refs))
	}
	return refs, nil
}

// Fetch retrieves the full message (BODY[]), which marks it seen.
func (s *Source) Fetch(ctx context.Context, ref model.MessageRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uid, err := strconv.ParseUint(ref.ID, 10, 32)
	if err != nil || uid == 0 {
		return nil, fmt.Errorf("%w: %q", mailbox.ErrInvalidRef, ref.ID)
	}

	section := &imapv2.FetchItemBodySection{}
	options := &imapv2.FetchOptions{
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{section},
	}

	release := s.deadline()
	msgs, err := s.client.Fetch(imapv2.UIDSetNum(imapv2.UID(uid)), options).Collect()
	release()
	if err != nil {
		return nil, fmt.Errorf("imap fetch %d: %w", uid, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: uid %d", ErrMessageNotFound, uid)
	}

	raw := msgs[0].FindBodySection(section)
	if raw == nil {
		return nil, fmt.Errorf("%w: uid %d has no body", ErrMessageNotFound, uid)
	}
	return raw, nil
}

// Close issues CLOSE and then LOGOUT. Failures are logged only.
func (s *Source) Close() error {
	release := s.deadline()
	if err := s.client.UnselectAndExpunge().Wait(); err != nil && s.logger != nil {
		s.logger.Warn("imap close failed", "mailbox", s.mailbox, "err", err)
	}
	release()
	s.cleanup()
	return nil
}

func order(refs []model.MessageRef, sort model.SortOrder) []model.MessageRef {
	if sort == model.SortOldest {
		return mailbox.Reverse(refs)
	}
	return refs
}

func searchCriteria(q mailbox.Query) *imapv2.SearchCriteria {
	criteria := &imapv2.SearchCriteria{}
	if !q.IncludeSeen {
		criteria.NotFlag = []imapv2.Flag{imapv2.FlagSeen}
	}
	if !q.Since.IsZero() {
		criteria.Since = q.Since
	}
	if !q.Before.IsZero() {
		criteria.Before = q.Before
	}
	return criteria
}

// SearchQuery renders the SEARCH keys sent for q, e.g.
// `UNSEEN SINCE "01-May-2024"`.
func SearchQuery(q mailbox.Query) string {
	keys := []string{"ALL"}
	if !q.IncludeSeen {
		keys = []string{"UNSEEN"}
	}
	if !q.Since.IsZero() {
		keys = append(keys, fmt.Sprintf("SINCE %q", filter.IMAPDate(q.Since)))
	}
	if !q.Before.IsZero() {
		keys = append(keys, fmt.Sprintf("BEFORE %q", filter.IMAPDate(q.Before)))
	}
	return strings.Join(keys, " ")
}
