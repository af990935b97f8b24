// Package message turns raw RFC 5322 bytes into normalized records.
package message

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/charmap"

	"github.com/dhcgn/mailclient/model"
)

func init() {
	// Charsets that are common in real mail but not part of the defaults.
	charset.RegisterEncoding("windows-1252", charmap.Windows1252)
	charset.RegisterEncoding("iso-8859-1", charmap.ISO8859_1)
	charset.RegisterEncoding("iso-8859-15", charmap.ISO8859_15)
}

// Parse normalizes raw into a MessageRecord. Only a header that cannot be
// read at all is an error; undecodable parts are dropped.
func Parse(id string, raw []byte) (model.MessageRecord, error) {
	entity, err := read(raw)
	if err != nil {
		return model.MessageRecord{}, err
	}

	h := mail.Header{Header: entity.Header}
	rec := model.MessageRecord{
		ID:         id,
		Raw:        raw,
		Date:       strings.TrimSpace(h.Get("Date")),
		Subject:    subject(h),
		From:       firstAddress(h, "From"),
		To:         addresses(h, "To"),
		Cc:         addresses(h, "Cc"),
		ReplyTo:    addresses(h, "Reply-To"),
		MessageID:  strings.TrimSpace(h.Get("Message-Id")),
		References: strings.TrimSpace(h.Get("References")),
	}
	rec.Body = extractBody(entity)
	return rec, nil
}

// ExtractBody returns the text/plain and text/html parts of raw that are
// not attachments, in document order.
func ExtractBody(raw []byte) ([]model.BodyPart, error) {
	entity, err := read(raw)
	if err != nil {
		return nil, err
	}
	return extractBody(entity), nil
}

func read(raw []byte) (*gomessage.Entity, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !tolerable(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if entity == nil {
		return nil, fmt.Errorf("parse message: empty entity")
	}
	return entity, nil
}

// tolerable reports errors after which the entity is still usable, with its
// body left undecoded.
func tolerable(err error) bool {
	return gomessage.IsUnknownCharset(err) || gomessage.IsUnknownEncoding(err)
}

func extractBody(entity *gomessage.Entity) []model.BodyPart {
	var parts []model.BodyPart
	// A broken multipart boundary stops the walk; keep what was collected.
	_ = entity.Walk(func(_ []int, part *gomessage.Entity, err error) error {
		if err != nil && !tolerable(err) {
			return nil
		}
		if part == nil {
			return nil
		}
		mediaType := contentType(part)
		if mediaType != "text/plain" && mediaType != "text/html" {
			return nil
		}
		if disp, _, _ := part.Header.ContentDisposition(); strings.EqualFold(disp, "attachment") {
			return nil
		}
		b, rerr := io.ReadAll(part.Body)
		if rerr != nil {
			return nil
		}
		parts = append(parts, model.BodyPart{
			ContentType: mediaType,
			Text:        strings.ToValidUTF8(string(b), "�"),
		})
		return nil
	})
	return parts
}

func contentType(part *gomessage.Entity) string {
	mediaType, _, err := part.Header.ContentType()
	if err != nil || mediaType == "" {
		return "text/plain"
	}
	return strings.ToLower(mediaType)
}

func subject(h mail.Header) string {
	s, err := h.Subject()
	if err != nil {
		return strings.TrimSpace(h.Get("Subject"))
	}
	return strings.TrimSpace(s)
}

func firstAddress(h mail.Header, key string) string {
	list := addresses(h, key)
	if len(list) == 0 {
		return ""
	}
	return list[0]
}

// addresses returns the bare addresses of a header, dropping display names.
func addresses(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			if a.Address != "" {
				out = append(out, a.Address)
			}
		}
		return out
	}

	raw := strings.TrimSpace(h.Get(key))
	if raw == "" {
		return nil
	}
	return []string{BareAddress(raw)}
}

// BareAddress strips a display name from a single address.
func BareAddress(value string) string {
	value = strings.TrimSpace(value)
	if addr, err := mail.ParseAddress(value); err == nil {
		return addr.Address
	}
	if i := strings.LastIndex(value, "<"); i >= 0 {
		if j := strings.Index(value[i:], ">"); j > 0 {
			return strings.TrimSpace(value[i+1 : i+j])
		}
	}
	return value
}
