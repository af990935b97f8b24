// Package compose builds outgoing RFC 5322 messages.
package compose

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/dhcgn/mailclient/message"
	"github.com/dhcgn/mailclient/model"
	"github.com/dhcgn/mailclient/templates"
)

const DefaultSubject = "No Subject"

// File is an attachment held in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type Options struct {
	From    string
	To      []string
	Cc      []string
	Subject string

	// Bodies, when set, are emitted as they are and every other body source
	// is ignored.
	Bodies   []model.BodyPart
	Body     string
	BodyFile string

	Images      []string
	Attachments []string
	Files       []File

	Template       string
	TemplateParams map[string]string

	// Headers are set after every generated header and override them.
	Headers map[string]string
	Date    time.Time
}

// Message is a built message ready to be sent.
type Message struct {
	From      string
	MessageID string
	Subject   string
	Raw       []byte
}

// Build renders opts into a multipart/mixed message.
func Build(opts Options, logger *slog.Logger) (*Message, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	subject, bodies, err := resolve(opts)
	if err != nil {
		return nil, err
	}
	if empty(bodies) {
		logger.Warn("email body is empty", "subject", subject)
	}

	date := opts.Date
	if date.IsZero() {
		date = time.Now()
	}
	id := uuid.NewString() + "@" + domain(opts.From)

	var h mail.Header
	h.Set("MIME-Version", "1.0")
	h.SetDate(date)
	h.SetMessageID(id)
	h.SetAddressList("From", addressList([]string{opts.From}))
	if len(opts.To) > 0 {
		h.SetAddressList("To", addressList(opts.To))
	}
	if len(opts.Cc) > 0 {
		h.SetAddressList("Cc", addressList(opts.Cc))
	}
	h.SetSubject(subject)
	h.SetContentType("multipart/mixed", nil)
	for _, k := range sortedKeys(opts.Headers) {
		h.Set(k, opts.Headers[k])
	}

	var buf bytes.Buffer
	w, err := gomessage.CreateWriter(&buf, h.Header)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	for _, part := range bodies {
		if err := writeBody(w, part); err != nil {
			return nil, err
		}
	}
	for _, path := range opts.Images {
		if err := writeImage(w, path); err != nil {
			return nil, err
		}
	}
	for _, path := range opts.Attachments {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading attachment: %w", err)
		}
		if err := writeFile(w, File{Name: filepath.Base(path), Data: data}); err != nil {
			return nil, err
		}
	}
	for _, f := range opts.Files {
		if err := writeFile(w, f); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}

	return &Message{
		From:      message.BareAddress(opts.From),
		MessageID: "<" + id + ">",
		Subject:   subject,
		Raw:       buf.Bytes(),
	}, nil
}

// resolve picks the subject and the body parts. The body file wins over a
// template body, which wins over the literal body.
func resolve(opts Options) (string, []model.BodyPart, error) {
	subject := opts.Subject
	body := opts.Body

	if opts.Template != "" {
		r, err := templates.Render(opts.Template, opts.TemplateParams)
		if err != nil {
			return "", nil, err
		}
		if subject == "" {
			subject = r.Subject
		}
		if r.Body != "" {
			body = r.Body
		}
	}
	if opts.BodyFile != "" {
		data, err := os.ReadFile(opts.BodyFile)
		if err != nil {
			return "", nil, fmt.Errorf("reading body file: %w", err)
		}
		body = string(data)
	}
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}

	if len(opts.Bodies) > 0 {
		return subject, opts.Bodies, nil
	}
	return subject, []model.BodyPart{{ContentType: "text/html", Text: body}}, nil
}

func empty(parts []model.BodyPart) bool {
	for _, p := range parts {
		if strings.TrimSpace(p.Text) != "" {
			return false
		}
	}
	return true
}

func writeBody(w *gomessage.Writer, part model.BodyPart) error {
	contentType := part.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	var h gomessage.Header
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	return writePart(w, h, []byte(part.Text))
}

func writeImage(w *gomessage.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}
	name := filepath.Base(path)
	mediaType, params := guessType(name)

	var h gomessage.Header
	h.SetContentType(mediaType, params)
	h.Set("Content-Id", "<"+name+">")
	h.SetContentDisposition("inline", map[string]string{"filename": name})
	h.Set("Content-Transfer-Encoding", "base64")
	return writePart(w, h, data)
}

func writeFile(w *gomessage.Writer, f File) error {
	mediaType, params := guessType(f.Name)
	if f.ContentType != "" {
		if mt, p, err := mime.ParseMediaType(f.ContentType); err == nil {
			mediaType, params = mt, p
		}
	}

	var h gomessage.Header
	h.SetContentType(mediaType, params)
	h.SetContentDisposition("attachment", map[string]string{"filename": f.Name})
	switch {
	case mediaType == "message/rfc822":
		// Must not be encoded.
	case strings.HasPrefix(mediaType, "text/"):
		h.Set("Content-Transfer-Encoding", "quoted-printable")
	default:
		h.Set("Content-Transfer-Encoding", "base64")
	}
	return writePart(w, h, f.Data)
}

func writePart(w *gomessage.Writer, h gomessage.Header, data []byte) error {
	pw, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create part: %w", err)
	}
	if _, err := io.Copy(pw, bytes.NewReader(data)); err != nil {
		pw.Close()
		return fmt.Errorf("write part: %w", err)
	}
	return pw.Close()
}

// guessType maps a file name to a media type, treating .eml as a nested
// message.
func guessType(name string) (string, map[string]string) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".eml" {
		return "message/rfc822", nil
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		if mt, params, err := mime.ParseMediaType(ct); err == nil {
			return mt, params
		}
	}
	return "application/octet-stream", nil
}

func addressList(values []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if addr, err := mail.ParseAddress(v); err == nil {
			out = append(out, addr)
			continue
		}
		out = append(out, &mail.Address{Address: v})
	}
	return out
}

func domain(from string) string {
	addr := message.BareAddress(from)
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Envelope is one message to submit and its SMTP recipients.
type Envelope struct {
	Options    Options
	Recipients []string
}

// Envelopes returns a single envelope addressed to every recipient, or one
// envelope per To address when separately is set. Cc and bcc go with each.
func Envelopes(opts Options, bcc []string, separately bool) []Envelope {
	extra := make([]string, 0, len(opts.Cc)+len(bcc))
	extra = append(extra, opts.Cc...)
	extra = append(extra, bcc...)

	if !separately {
		rcpts := append(append([]string{}, opts.To...), extra...)
		return []Envelope{{Options: opts, Recipients: rcpts}}
	}

	out := make([]Envelope, 0, len(opts.To))
	for _, to := range opts.To {
		o := opts
		o.To = []string{to}
		out = append(out, Envelope{Options: o, Recipients: append([]string{to}, extra...)})
	}
	return out
}
