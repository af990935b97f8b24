package model

import "strings"

// Protocol tags the mail store a message was read from.
type Protocol string

const (
	ProtocolIMAP    Protocol = "imap"
	ProtocolPOP3    Protocol = "pop3"
	ProtocolMaildir Protocol = "maildir"
	ProtocolMbox    Protocol = "mbox"
)

// Security selects how the transport is protected.
type Security string

const (
	SecurityNone     Security = "none"
	SecuritySTARTTLS Security = "starttls"
	SecuritySSL      Security = "ssl"
)

// SortOrder is the requested enumeration order.
type SortOrder string

const (
	SortOldest SortOrder = "oldest"
	SortNewest SortOrder = "newest"
)

// MessageRef identifies a message inside one open session.
// IMAP fills ID with the UID. POP3 fills Index with the 1-based ordinal and
// ID with the UIDL token (or "msg-<index>" when UIDL is unavailable).
type MessageRef struct {
	ID    string
	Index int
}

// BodyPart is one decoded text/plain or text/html part.
type BodyPart struct {
	ContentType string `json:"content_type"`
	Text        string `json:"text"`
}

// MessageRecord is a fetched and normalized message.
type MessageRecord struct {
	ID         string
	Raw        []byte
	Date       string
	Subject    string
	From       string
	To         []string
	Cc         []string
	ReplyTo    []string
	MessageID  string
	References string
	Body       []BodyPart
	Actions    []ActionOutcome
}

// BodyText joins every body part with spaces and trims the result.
func (r MessageRecord) BodyText() string {
	texts := make([]string, 0, len(r.Body))
	for _, part := range r.Body {
		texts = append(texts, part.Text)
	}
	return strings.TrimSpace(strings.Join(texts, " "))
}

// Result builds the ActionResult view of the record.
func (r MessageRecord) Result() ActionResult {
	performed := r.Actions
	if performed == nil {
		performed = []ActionOutcome{}
	}
	return ActionResult{
		ID:        r.ID,
		Date:      r.Date,
		Subject:   r.Subject,
		From:      r.From,
		To:        r.To,
		Performed: performed,
	}
}
