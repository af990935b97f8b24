package forward

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mailclient/compose"
	"github.com/dhcgn/mailclient/message"
	"github.com/dhcgn/mailclient/model"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

var raw = crlf(`From: alice@example.com
To: me@example.com, bob@example.com
Subject: Invoice
Date: Sat, 01 Jun 2024 09:00:00 +0000
Message-Id: <orig@example.com>
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="b"

--b
Content-Type: text/html; charset=utf-8

<p>Please pay</p>
--b
Content-Type: image/png
Content-Disposition: inline; filename="logo.png"
Content-Transfer-Encoding: base64

iVBORw==
--b
Content-Type: text/plain; charset=utf-8
Content-Disposition: attachment; filename="invoice.txt"

total 42
--b--
`)

func original(t *testing.T) model.MessageRecord {
	t.Helper()
	rec, err := message.Parse("9", raw)
	require.NoError(t, err)
	return rec
}

func TestSubject(t *testing.T) {
	tests := []struct {
		original, override, prefix, want string
	}{
		{"Invoice", "", "", "Fwd: Invoice"},
		{"Invoice", "", "FW:", "FW: Invoice"},
		{"Fwd: Invoice", "", "FW:", "Fwd: Invoice"},
		{"FW: Invoice", "", "FW:", "FW: Invoice"},
		{"Invoice", "Custom", "", "Custom"},
		{"", "", "", "Fwd:"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Subject(tt.original, tt.override, tt.prefix))
	}
}

func TestHeader(t *testing.T) {
	rec := original(t)
	want := "<br><br>---------- Forwarded message ---------<br>" +
		"From: alice@example.com<br>" +
		"Date: Sat, 01 Jun 2024 09:00:00 +0000<br>" +
		"Subject: Invoice<br>" +
		"To: me@example.com, bob@example.com<br><br>"
	assert.Equal(t, want, Header(rec))
}

func TestBuild_Inline(t *testing.T) {
	rec := original(t)
	opts, err := Build(rec, Options{
		Sender: "me@example.com",
		To:     []string{"carol@example.com"},
		Body:   "<p>FYI</p>",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Fwd: Invoice", opts.Subject)
	require.Len(t, opts.Bodies, 3)
	assert.Equal(t, "<p>FYI</p>", opts.Bodies[0].Text)
	assert.Contains(t, opts.Bodies[1].Text, "Forwarded message")
	assert.Equal(t, "<p>Please pay</p>", opts.Bodies[2].Text)

	require.Len(t, opts.Files, 1, "inline parts are not re-attached")
	assert.Equal(t, "invoice.txt", opts.Files[0].Name)
	assert.Equal(t, "total 42", string(opts.Files[0].Data))

	msg, err := compose.Build(opts, nil)
	require.NoError(t, err)
	atts, err := message.Attachments(msg.Raw)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "invoice.txt", atts[0].Filename)
}

func TestBuild_InlineWithoutAttachments(t *testing.T) {
	opts, err := Build(original(t), Options{Sender: "me@example.com", To: []string{"c@example.com"}, NoAttachments: true}, nil)
	require.NoError(t, err)
	assert.Empty(t, opts.Files)
	require.Len(t, opts.Bodies, 2, "no own body, header plus original")
}

func TestBuild_InlineTemplateSubject(t *testing.T) {
	opts, err := Build(original(t), Options{
		Sender:             "me@example.com",
		To:                 []string{"c@example.com"},
		Template:           "mail_2",
		UseTemplateSubject: true,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Te quiero", opts.Subject)
	assert.Contains(t, strings.ToLower(opts.Bodies[0].Text), "<html")
}

func TestBuild_Attachment(t *testing.T) {
	rec := original(t)
	opts, err := Build(rec, Options{
		Sender: "me@example.com",
		To:     []string{"c@example.com"},
		Body:   "<p>see attached</p>",
		Mode:   ModeAttachment,
		Prefix: "FW:",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "FW: Invoice", opts.Subject)
	assert.Empty(t, opts.Bodies)
	require.Len(t, opts.Files, 1)
	assert.Equal(t, "Invoice.eml", opts.Files[0].Name)
	assert.Equal(t, "message/rfc822", opts.Files[0].ContentType)

	msg, err := compose.Build(opts, nil)
	require.NoError(t, err)
	parsed, err := message.Parse("f", msg.Raw)
	require.NoError(t, err)
	require.Len(t, parsed.Body, 1)
	assert.Equal(t, "<p>see attached</p>", parsed.Body[0].Text)

	atts, err := message.Attachments(msg.Raw)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "Invoice.eml", atts[0].Filename)
	assert.Contains(t, string(atts[0].Data), "Please pay")
}

func TestBuild_UnknownMode(t *testing.T) {
	_, err := Build(original(t), Options{Mode: "sideways"}, nil)
	assert.Error(t, err)
}
