package smtp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mailclient/compose"
	"github.com/dhcgn/mailclient/mailbox"
	"github.com/dhcgn/mailclient/model"
)

type received struct {
	from string
	to   []string
	data []byte
}

type backend struct {
	mu       sync.Mutex
	messages []received
	user     string
	password string
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
	b      *backend
	cur    received
	authed bool
}

func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *session) Auth(string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != s.b.user || password != s.b.password {
			return errors.New("invalid credentials")
		}
		s.authed = true
		return nil
	}), nil
}

func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	if s.b.user != "" && !s.authed {
		return gosmtp.ErrAuthRequired
	}
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
	s.cur.data = data
	s.b.mu.Lock()
	s.b.messages = append(s.b.messages, s.cur)
	s.b.mu.Unlock()
	return nil
}

func (s *session) Reset() {
	s.cur = received{}
}

func (s *session) Logout() error {
	return nil
}

func newServer(t *testing.T, be *backend) Options {
	t.Helper()
	srv := gosmtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return Options{Host: host, Port: p, Security: model.SecurityNone, Timeout: 5 * time.Second}
}

func TestSend(t *testing.T) {
	be := &backend{}
	opts := newServer(t, be)

	raw := []byte("Subject: hi\r\n\r\nhello\r\n")
	err := Send(context.Background(), opts, "a@example.com", []string{"b@example.com", "c@example.com"}, raw, nil)
	require.NoError(t, err)

	msgs := be.snapshot()
	require.Len(t, msgs, 1)
	got := msgs[0]
	assert.Equal(t, "a@example.com", got.from)
	assert.Equal(t, []string{"b@example.com", "c@example.com"}, got.to)
	assert.Contains(t, string(got.data), "hello")
}

func TestSend_Auth(t *testing.T) {
	be := &backend{user: "alice", password: "secret"}
	opts := newServer(t, be)
	raw := []byte("Subject: hi\r\n\r\nhello\r\n")

	opts.Username, opts.Password = "alice", "wrong"
	err := Send(context.Background(), opts, "a@example.com", []string{"b@example.com"}, raw, nil)
	assert.True(t, errors.Is(err, ErrAuth), "err = %v", err)

	opts.Password = "secret"
	require.NoError(t, Send(context.Background(), opts, "a@example.com", []string{"b@example.com"}, raw, nil))
	assert.Len(t, be.snapshot(), 1)
}

func TestSend_NoRecipients(t *testing.T) {
	err := Send(context.Background(), Options{Host: "127.0.0.1", Port: 25}, "a@example.com", nil, nil, nil)
	assert.True(t, errors.Is(err, ErrNoRecipients))
}

func TestSend_Validation(t *testing.T) {
	rcpt := []string{"b@example.com"}
	assert.Error(t, Send(context.Background(), Options{Port: 25}, "a@example.com", rcpt, nil, nil))
	assert.Error(t, Send(context.Background(), Options{Host: "127.0.0.1"}, "a@example.com", rcpt, nil, nil))
}

func TestDispatcher_Deliver(t *testing.T) {
	msg := &compose.Message{From: "a@example.com", MessageID: "<id@example.com>", Subject: "s", Raw: []byte("raw")}
	sendErr := errors.New("relay denied")
	saveErr := errors.New("append failed")

	tests := []struct {
		name      string
		sendErr   error
		saveErr   error
		saveSent  bool
		wantSent  bool
		wantSaved bool
		wantSaves int
	}{
		{name: "send only", wantSent: true},
		{name: "send and save", saveSent: true, wantSent: true, wantSaved: true, wantSaves: 1},
		{name: "send fails", sendErr: sendErr, saveSent: true},
		{name: "save fails", saveErr: saveErr, saveSent: true, wantSent: true, wantSaves: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saves := 0
			d := &Dispatcher{
				Folder: "Sent",
				Store:  mailbox.Options{Host: "imap.example.com"},
				Logger: slog.New(slog.DiscardHandler),
				send: func(_ context.Context, _ Options, from string, rcpts []string, raw []byte, _ *slog.Logger) error {
					assert.Equal(t, "a@example.com", from)
					assert.Equal(t, []string{"b@example.com"}, rcpts)
					return tt.sendErr
				},
				save: func(_ context.Context, opts mailbox.Options, folder string, raw []byte, _ *slog.Logger) error {
					saves++
					assert.Equal(t, "imap.example.com", opts.Host)
					assert.Equal(t, "Sent", folder)
					assert.Equal(t, []byte("raw"), raw)
					return tt.saveErr
				},
			}

			res := d.Deliver(context.Background(), msg, []string{"b@example.com"}, tt.saveSent)
			assert.Equal(t, tt.wantSent, res.Sent)
			assert.Equal(t, tt.wantSaved, res.Saved)
			assert.Equal(t, tt.wantSaves, saves)
			assert.Equal(t, "<id@example.com>", res.MessageID)
			assert.True(t, errors.Is(res.Err, tt.sendErr) || tt.sendErr == nil)
			assert.True(t, errors.Is(res.SaveErr, tt.saveErr) || tt.saveErr == nil)
		})
	}
}
