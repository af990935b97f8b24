package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mailclient/model"
	"github.com/dhcgn/mailclient/stats"
)

const sampleMbox = `From alice@example.com Mon Jan  1 09:00:00 2024
From: alice@example.com
To: me@example.com
Subject: first
Date: Mon, 01 Jan 2024 09:00:00 +0000

one
From bob@example.com Tue Jan  2 09:00:00 2024
From: bob@example.com
To: me@example.com, team@example.com
Subject: second
Date: Tue, 02 Jan 2024 09:00:00 +0000

two
From alice@example.com Wed Jan  3 09:00:00 2024
From: alice@example.com
To: me@example.com
Subject: third
Date: Wed, 03 Jan 2024 09:00:00 +0000

three
`

func writeMbox(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inbox.mbox")
	require.NoError(t, os.WriteFile(path, []byte(sampleMbox), 0o600))
	return path
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	err := Execute()
	return out.String(), err
}

type received struct {
	from string
	to   []string
	data string
}

type backend struct {
	mu       sync.Mutex
	messages []received
}

func (b *backend) snapshot() []received {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]received(nil), b.messages...)
}

func (b *backend) NewSession(*gosmtp.Conn) (gosmtp.Session, error) {
	return &session{b: b}, nil
}

type session struct {
	b   *backend
	cur received
}

func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.cur.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.cur.to = append(s.cur.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.cur.data = string(data)
	s.b.mu.Lock()
	s.b.messages = append(s.b.messages, s.cur)
	s.b.mu.Unlock()
	return nil
}

func (s *session) Reset()        { s.cur = received{} }
func (s *session) Logout() error { return nil }

// smtpServer starts an SMTP server and returns its host and port flags.
func smtpServer(t *testing.T, be *backend) []string {
	t.Helper()
	srv := gosmtp.NewServer(be)
	srv.Domain = "localhost"

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return []string{"--smtp-host", host, "--smtp-port", port, "--timeout", "5"}
}

func TestReadCommand_JSON(t *testing.T) {
	out, err := execute(t, "read",
		"--mail-protocol", "mbox",
		"--mail-path", writeMbox(t),
		"--from-regex", "alice",
		"--sort", "newest",
		"--format", "json",
	)
	require.NoError(t, err)

	var results []model.ActionResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "third", results[0].Subject)
	assert.Equal(t, "first", results[1].Subject)
	assert.Equal(t, "alice@example.com", results[0].From)
	assert.Empty(t, results[0].Performed)
}

// captureStdout runs fn with os.Stdout redirected and returns what was written.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	done := make(chan string)
	go func() {
		data, _ := io.ReadAll(r)
		done <- string(data)
	}()

	fn()
	require.NoError(t, w.Close())
	return <-done
}

func TestReadCommand_JSONOnStdout(t *testing.T) {
	tests := []struct {
		name  string
		extra []string
	}{
		{name: "default log level"},
		{name: "debug log level", extra: []string{"--log-level", "debug"}},
		{name: "log dir", extra: []string{"--log-dir", t.TempDir()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"read",
				"--mail-protocol", "mbox",
				"--mail-path", writeMbox(t),
				"--format", "json",
			}, tt.extra...)

			var err error
			out := captureStdout(t, func() {
				resetFlags(rootCmd)
				rootCmd.SetOut(nil)
				rootCmd.SetArgs(args)
				defer rootCmd.SetArgs(nil)
				err = Execute()
			})
			require.NoError(t, err)

			var results []model.ActionResult
			require.NoError(t, json.Unmarshal([]byte(out), &results), "stdout: %s", out)
			assert.Len(t, results, 3)
		})
	}
}

func TestReadCommand_ExportMbox(t *testing.T) {
	export := filepath.Join(t.TempDir(), "selected.mbox")
	_, err := execute(t, "read",
		"--mail-protocol", "mbox",
		"--mail-path", writeMbox(t),
		"--subject-regex", "^second$",
		"--export-mbox", export,
	)
	require.NoError(t, err)

	data, err := os.ReadFile(export)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Subject: second")
	assert.NotContains(t, string(data), "Subject: first")
}

func TestReadCommand_InvalidConfig(t *testing.T) {
	_, err := execute(t, "read", "--mail-protocol", "mbox")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--mail-path")

	_, err = execute(t, "read", "--mail-protocol", "mbox", "--mail-path", writeMbox(t), "--format", "xml")
	require.Error(t, err)
}

func TestStatsCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "stats",
		"--mail-protocol", "mbox",
		"--mail-path", writeMbox(t),
		"--output", dir,
		"--top", "1",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Top 1 From:\n1. alice@example.com (2)\n")
	assert.Contains(t, out, "Top 1 To:\n1. me@example.com (3)\n")

	data, err := os.ReadFile(filepath.Join(dir, "report_from.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Value,Count\nalice@example.com,2\nbob@example.com,1\n", string(data))
}

func TestReplyCommand(t *testing.T) {
	be := &backend{}
	args := append([]string{"reply", "me@example.com",
		"--mail-protocol", "mbox",
		"--mail-path", writeMbox(t),
		"--subject-regex", "^first$",
		"--body", "<p>thanks</p>",
	}, smtpServer(t, be)...)

	_, err := execute(t, args...)
	require.NoError(t, err)

	msgs := be.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "me@example.com", msgs[0].from)
	assert.Equal(t, []string{"alice@example.com"}, msgs[0].to)
	assert.Contains(t, msgs[0].data, "Subject: Re: first")
}

func TestReplyCommand_NothingToDo(t *testing.T) {
	be := &backend{}
	args := append([]string{"reply", "me@example.com",
		"--mail-protocol", "mbox",
		"--mail-path", writeMbox(t),
		"--subject-regex", "no such subject",
	}, smtpServer(t, be)...)

	_, err := execute(t, args...)
	require.NoError(t, err)
	assert.Empty(t, be.snapshot())
}

func TestReplyCommand_UnreachableSource(t *testing.T) {
	be := &backend{}
	args := append([]string{"reply", "me@example.com",
		"--mail-protocol", "mbox",
		"--mail-path", filepath.Join(t.TempDir(), "missing.mbox"),
	}, smtpServer(t, be)...)

	_, err := execute(t, args...)
	require.NoError(t, err)
	assert.Empty(t, be.snapshot())
}

func TestSendCommand_Separately(t *testing.T) {
	be := &backend{}
	args := append([]string{"send", "me@example.com", "a@example.com", "b@example.com",
		"--cc", "boss@example.com",
		"--subject", "hello",
		"--body", "<p>hi</p>",
		"--send-separately",
	}, smtpServer(t, be)...)

	_, err := execute(t, args...)
	require.NoError(t, err)

	msgs := be.snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"a@example.com", "boss@example.com"}, msgs[0].to)
	assert.Equal(t, []string{"b@example.com", "boss@example.com"}, msgs[1].to)
	for _, m := range msgs {
		assert.Contains(t, m.data, "Subject: hello")
	}
}

func TestForwardCommand_InvalidMode(t *testing.T) {
	_, err := execute(t, "forward", "me@example.com", "you@example.com", "--mode", "carrier-pigeon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--mode")
}

func TestPrintRecords_Text(t *testing.T) {
	var buf bytes.Buffer
	err := printRecords(&buf, []model.MessageRecord{{
		ID:      "7",
		Date:    "Mon, 01 Jan 2024 09:00:00 +0000",
		Subject: "Quarterly",
		From:    "alice@example.com",
		To:      []string{"me@example.com", "you@example.com"},
		Body:    []model.BodyPart{{ContentType: "text/html", Text: "<p><strong>Hi</strong></p>"}},
		Actions: []model.ActionOutcome{
			{Action: model.ActionNavigate, OK: true},
			{Action: model.ActionExec, Err: "no attachments"},
		},
	}}, "text")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "ID: 7\n")
	assert.Contains(t, out, "To: me@example.com, you@example.com\n")
	assert.NotContains(t, out, "Cc:")
	assert.Contains(t, out, "Action navigate: ok\n")
	assert.Contains(t, out, "Action exec: failed: no attachments\n")
	assert.Contains(t, out, "**Hi**")
	assert.True(t, strings.HasSuffix(out, recordSeparator+"\n"))
}

func TestPrintRecords_JSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printRecords(&buf, nil, "json"))
	assert.Equal(t, "[]\n", buf.String())
}

func TestCountHeaders(t *testing.T) {
	counter := countHeaders([]model.MessageRecord{
		{From: "a@example.com", To: []string{"x@example.com", "y@example.com"}, Subject: "s"},
		{From: "a@example.com", To: []string{"x@example.com"}, Cc: []string{"c@example.com"}, Subject: "s"},
	})
	assert.Equal(t, stats.Count{"a@example.com": 2}, counter["From"])
	assert.Equal(t, stats.Count{"x@example.com": 2, "y@example.com": 1}, counter["To"])
	assert.Equal(t, stats.Count{"c@example.com": 1}, counter["Cc"])
	assert.Equal(t, stats.Count{"s": 2}, counter["Subject"])
}

func TestSaveCSVReports_Limit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	counter := map[string]stats.Count{
		"Delivered-To": {"a": 3, "b": 2, "c": 1},
	}
	require.NoError(t, saveCSVReports(counter, []string{"Delivered-To"}, dir, 2))

	data, err := os.ReadFile(filepath.Join(dir, "report_delivered_to.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Value,Count\na,3\nb,2\n", string(data))
}

func TestPrintFilterHits(t *testing.T) {
	var buf bytes.Buffer
	printFilterHits(&buf, map[string]int{"subject: b": 0, "from: a": 4, "body: c": 4})
	want := "  ✓ body: c: 4 hits\n  ✓ from: a: 4 hits\n  ✗ subject: b: 0 hits\n"
	assert.Equal(t, want, buf.String())
}

func TestPrintResponse(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printResponse(&buf, map[string]any{"message": "ok"}))
	assert.Equal(t, "{\n  \"message\": \"ok\"\n}\n", buf.String())

	buf.Reset()
	require.NoError(t, printResponse(&buf, nil))
	assert.Empty(t, buf.String())
}
