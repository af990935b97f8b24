// Package reply turns a selected message into a reply draft.
package reply

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dhcgn/mailclient/compose"
	"github.com/dhcgn/mailclient/message"
	"github.com/dhcgn/mailclient/model"
	"github.com/dhcgn/mailclient/templates"
)

const blockquoteStyle = "margin-left:1em; border-left:2px solid #ccc; padding-left:1em;"

type Options struct {
	Sender string
	// To overrides the reply recipients. With ReplyAll it adds to them.
	To          []string
	Cc          []string
	Subject     string
	Body        string
	BodyFile    string
	Images      []string
	Attachments []string

	Template           string
	TemplateParams     map[string]string
	UseTemplateSubject bool

	NoQuoteOriginal bool
	ReplyAll        bool
}

// Build returns the compose options for a reply to rec.
func Build(rec model.MessageRecord, opts Options, logger *slog.Logger) (compose.Options, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	own, tmplSubject, err := ownBody(opts)
	if err != nil {
		return compose.Options{}, err
	}

	subject := Subject(rec.Subject, opts.Subject)
	if opts.Subject == "" && opts.UseTemplateSubject && tmplSubject != "" {
		subject = tmplSubject
	}

	bodies := []model.BodyPart{{ContentType: "text/html", Text: own}}
	if !opts.NoQuoteOriginal {
		if q, ok := Quote(rec); ok {
			bodies = append(bodies, q)
		} else {
			logger.Debug("original message has no text to quote", "id", rec.ID)
		}
	}

	to := Recipients(rec, opts.Sender, opts.To, opts.ReplyAll)
	logger.Info("reply recipients", "to", to, "subject", subject)

	return compose.Options{
		From:        opts.Sender,
		To:          to,
		Cc:          opts.Cc,
		Subject:     subject,
		Bodies:      bodies,
		Images:      opts.Images,
		Attachments: opts.Attachments,
		Headers:     Threading(rec),
	}, nil
}

// ownBody resolves the reply text: template first, then body file, then
// the literal body.
func ownBody(opts Options) (string, string, error) {
	switch {
	case opts.Template != "":
		r, err := templates.Render(opts.Template, opts.TemplateParams)
		if err != nil {
			return "", "", err
		}
		return r.Body, r.Subject, nil
	case opts.BodyFile != "":
		data, err := os.ReadFile(opts.BodyFile)
		if err != nil {
			return "", "", fmt.Errorf("reading body file: %w", err)
		}
		return string(data), "", nil
	default:
		return opts.Body, "", nil
	}
}

// Subject returns override when set, the original subject when it already
// starts with "Re:", and "Re: <original>" otherwise.
func Subject(original, override string) string {
	if override != "" {
		return override
	}
	if strings.HasPrefix(strings.ToLower(original), "re:") {
		return original
	}
	return "Re: " + original
}

// Recipients picks the To list of the reply. Without replyAll an explicit
// override wins, then Reply-To, then From. With replyAll the original
// Reply-To (or From), To and Cc are merged with the override, de-duplicated
// case-insensitively and stripped of the sender.
func Recipients(rec model.MessageRecord, sender string, override []string, replyAll bool) []string {
	origin := rec.ReplyTo
	if len(origin) == 0 && rec.From != "" {
		origin = []string{rec.From}
	}

	if !replyAll {
		if len(override) > 0 {
			return override
		}
		return origin
	}

	var all []string
	all = append(all, origin...)
	all = append(all, rec.To...)
	all = append(all, rec.Cc...)
	all = append(all, override...)

	self := strings.ToLower(message.BareAddress(sender))
	seen := make(map[string]bool, len(all))
	out := make([]string, 0, len(all))
	for _, addr := range all {
		key := strings.ToLower(message.BareAddress(addr))
		if key == "" || key == self || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, addr)
	}
	return out
}

// Quote renders the original body for inclusion below the reply. HTML is
// used when any original part is HTML.
func Quote(rec model.MessageRecord) (model.BodyPart, bool) {
	if len(rec.Body) == 0 {
		return model.BodyPart{}, false
	}

	html := false
	texts := make([]string, 0, len(rec.Body))
	for _, p := range rec.Body {
		texts = append(texts, p.Text)
		if p.ContentType == "text/html" {
			html = true
		}
	}

	if html {
		return model.BodyPart{
			ContentType: "text/html",
			Text: fmt.Sprintf("<br><br><blockquote style='%s'>On %s, %s wrote:<br>%s</blockquote>",
				blockquoteStyle, rec.Date, rec.From, strings.Join(texts, "<br>")),
		}, true
	}

	lines := strings.Split(strings.TrimRight(strings.Join(texts, "\n"), "\n"), "\n")
	var b strings.Builder
	fmt.Fprintf(&b, "On %s, %s wrote:\n", rec.Date, rec.From)
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("> ")
		b.WriteString(strings.TrimRight(line, "\r"))
	}
	return model.BodyPart{ContentType: "text/plain", Text: b.String()}, true
}

// Threading returns the In-Reply-To and References headers that attach the
// reply to rec's thread. Both are omitted when rec has no Message-ID.
func Threading(rec model.MessageRecord) map[string]string {
	if rec.MessageID == "" {
		return nil
	}
	refs := strings.Fields(rec.References)
	refs = append(refs, rec.MessageID)
	return map[string]string{
		"In-Reply-To": rec.MessageID,
		"References":  strings.Join(refs, " "),
	}
}
