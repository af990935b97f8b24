// Package forward turns a selected message into a forward draft, either
// inline or with the original attached as a .eml file.
package forward

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dhcgn/mailclient/action"
	"github.com/dhcgn/mailclient/compose"
	"github.com/dhcgn/mailclient/message"
	"github.com/dhcgn/mailclient/model"
	"github.com/dhcgn/mailclient/templates"
)

type Mode string

const (
	ModeInline     Mode = "inline"
	ModeAttachment Mode = "attachment"

	DefaultPrefix = "Fwd:"
)

type Options struct {
	Sender      string
	To          []string
	Cc          []string
	Subject     string
	Prefix      string
	Body        string
	BodyFile    string
	Images      []string
	Attachments []string

	Template           string
	TemplateParams     map[string]string
	UseTemplateSubject bool

	Mode          Mode
	NoAttachments bool
}

// Build returns the compose options that forward rec.
func Build(rec model.MessageRecord, opts Options, logger *slog.Logger) (compose.Options, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}

	subject := Subject(rec.Subject, opts.Subject, opts.Prefix)
	if opts.Subject == "" && opts.UseTemplateSubject && opts.Template != "" {
		r, err := templates.Render(opts.Template, opts.TemplateParams)
		if err != nil {
			return compose.Options{}, err
		}
		subject = r.Subject
	}

	out := compose.Options{
		From:        opts.Sender,
		To:          opts.To,
		Cc:          opts.Cc,
		Subject:     subject,
		Images:      opts.Images,
		Attachments: opts.Attachments,
	}

	switch opts.Mode {
	case ModeAttachment:
		out.Body = opts.Body
		out.BodyFile = opts.BodyFile
		out.Template = opts.Template
		out.TemplateParams = opts.TemplateParams
		out.Files = []compose.File{{
			Name:        action.MailFilename(rec.Subject),
			ContentType: "message/rfc822",
			Data:        rec.Raw,
		}}
		return out, nil

	case ModeInline, "":
		bodies, err := inlineBodies(rec, opts, logger)
		if err != nil {
			return compose.Options{}, err
		}
		out.Bodies = bodies
		if !opts.NoAttachments {
			files, err := originalAttachments(rec)
			if err != nil {
				logger.Warn("could not read original attachments", "id", rec.ID, "err", err)
			}
			out.Files = files
		}
		return out, nil

	default:
		return compose.Options{}, fmt.Errorf("unknown forward mode %q", opts.Mode)
	}
}

// Subject returns override when set, the original when it already carries
// the prefix (or "Fwd:"), and "<prefix> <original>" otherwise.
func Subject(original, override, prefix string) string {
	if override != "" {
		return override
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if strings.HasPrefix(original, prefix) || strings.HasPrefix(original, DefaultPrefix) {
		return original
	}
	return strings.TrimSpace(prefix + " " + original)
}

// Header renders the forwarded-message block placed above the original body.
func Header(rec model.MessageRecord) string {
	return "<br><br>---------- Forwarded message ---------<br>" +
		"From: " + rec.From + "<br>" +
		"Date: " + rec.Date + "<br>" +
		"Subject: " + rec.Subject + "<br>" +
		"To: " + strings.Join(rec.To, ", ") + "<br><br>"
}

func inlineBodies(rec model.MessageRecord, opts Options, logger *slog.Logger) ([]model.BodyPart, error) {
	bodies := make([]model.BodyPart, 0, len(rec.Body)+2)

	switch {
	case opts.Template != "":
		r, err := templates.Render(opts.Template, opts.TemplateParams)
		if err != nil {
			return nil, err
		}
		bodies = append(bodies, model.BodyPart{ContentType: "text/html", Text: r.Body})
	case opts.BodyFile != "":
		data, err := os.ReadFile(opts.BodyFile)
		if err != nil {
			return nil, fmt.Errorf("reading body file: %w", err)
		}
		bodies = append(bodies, model.BodyPart{ContentType: "text/html", Text: string(data)})
	case opts.Body != "":
		bodies = append(bodies, model.BodyPart{ContentType: "text/html", Text: opts.Body})
	default:
		logger.Warn("no body, body file or template for inline forward, only the original message is included", "id", rec.ID)
	}

	bodies = append(bodies, model.BodyPart{ContentType: "text/html", Text: Header(rec)})
	return append(bodies, rec.Body...), nil
}

func originalAttachments(rec model.MessageRecord) ([]compose.File, error) {
	atts, err := message.Attachments(rec.Raw)
	if err != nil {
		return nil, err
	}
	var files []compose.File
	for _, a := range atts {
		if a.Disposition != "attachment" || a.Filename == "" {
			continue
		}
		files = append(files, compose.File{Name: a.Filename, ContentType: a.ContentType, Data: a.Data})
	}
	return files, nil
}
