// Package mailboxtest provides an in-memory mailbox.Source for tests.
package mailboxtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dhcgn/mailclient/mailbox"
	"github.com/dhcgn/mailclient/model"
)

// Message is one stored message.
type Message struct {
	ID  string
	Raw []byte
	// FetchErr makes Fetch fail for this message.
	FetchErr error
}

// Source serves Messages in slice order, oldest first. Query ordering and
// narrowing follow the POP3 convention.
type Source struct {
	Messages     []Message
	Caps         mailbox.Capabilities
	EnumerateErr error
	CloseErr     error

	mu       sync.Mutex
	Queries  []mailbox.Query
	Fetched  []string
	Deleted  []string
	Closed   bool
	Fetching func(ref model.MessageRef)
}

func (s *Source) Protocol() model.Protocol { return "memory" }

func (s *Source) Capabilities() mailbox.Capabilities { return s.Caps }

func (s *Source) Enumerate(_ context.Context, q mailbox.Query) ([]model.MessageRef, error) {
	s.mu.Lock()
	s.Queries = append(s.Queries, q)
	s.mu.Unlock()

	if s.EnumerateErr != nil {
		return nil, s.EnumerateErr
	}

	refs := make([]model.MessageRef, 0, len(s.Messages))
	for i, m := range s.Messages {
		refs = append(refs, model.MessageRef{ID: m.ID, Index: i + 1})
	}
	if q.Sort == model.SortNewest {
		refs = mailbox.Reverse(refs)
	}
	return mailbox.Narrow(refs, q.Limit, q.RandomPick, q.Rand), nil
}

func (s *Source) Fetch(_ context.Context, ref model.MessageRef) ([]byte, error) {
	if s.Fetching != nil {
		s.Fetching(ref)
	}
	s.mu.Lock()
	s.Fetched = append(s.Fetched, ref.ID)
	s.mu.Unlock()

	for _, m := range s.Messages {
		if m.ID == ref.ID {
			if m.FetchErr != nil {
				return nil, m.FetchErr
			}
			return m.Raw, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", mailbox.ErrInvalidRef, ref.ID)
}

func (s *Source) Delete(_ context.Context, ref model.MessageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Deleted = append(s.Deleted, ref.ID)
	return nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return s.CloseErr
}
