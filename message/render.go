package message

import (
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/dhcgn/mailclient/model"
)

// PlainText renders the body parts for a terminal. HTML parts are
// converted to Markdown; a part that fails to convert is shown as is.
func PlainText(parts []model.BodyPart) string {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		text := p.Text
		if p.ContentType == "text/html" {
			if md, err := htmltomarkdown.ConvertString(text); err == nil {
				text = md
			}
		}
		text = strings.TrimSpace(text)
		if text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, "\n\n")
}
