// Package mailbox defines the protocol-neutral view of a mail store and the
// registry that opens one by protocol name.
package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/dhcgn/mailclient/model"
)

var (
	ErrUnsupportedProtocol = errors.New("unsupported mail protocol")
	ErrConnect             = errors.New("mail connection failed")
	ErrInvalidRef          = errors.New("invalid message reference")
)

// Options carries everything needed to open a session.
type Options struct {
	Protocol         model.Protocol
	Host             string
	Port             int
	Username         string
	Password         string
	Security         model.Security
	AllowInsecureTLS bool
	Timeout          time.Duration
	// Mailbox is the IMAP folder to select. Empty means INBOX.
	Mailbox string
	// Path is the location of a local maildir directory or mbox file.
	Path string
}

// Query narrows the candidate set during enumeration.
type Query struct {
	IncludeSeen bool
	Since       time.Time
	Before      time.Time
	Sort        model.SortOrder
	// Limit < 0 means no limit.
	Limit      int
	RandomPick bool
	Rand       *rand.Rand
}

// Capabilities reports which filters the store already applied.
type Capabilities struct {
	ServerDateFilter bool
}

// Source is an open session on one mailbox.
type Source interface {
	Protocol() model.Protocol
	Capabilities() Capabilities
	Enumerate(ctx context.Context, q Query) ([]model.MessageRef, error)
	Fetch(ctx context.Context, ref model.MessageRef) ([]byte, error)
	Close() error
}

// Deleter is implemented by sources that can remove a message.
type Deleter interface {
	Delete(ctx context.Context, ref model.MessageRef) error
}

// TLSConfig returns the client TLS settings for host. Verification is only
// disabled when insecure is set, and that is always logged.
func TLSConfig(host string, insecure bool, logger *slog.Logger) *tls.Config {
	if insecure && logger != nil {
		logger.Warn("allowing insecure/self-signed TLS connections", "host", host)
	}
	return &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: insecure,
	}
}
