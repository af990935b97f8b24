package pop3

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var (
	ErrSTLSUnsupported = errors.New("pop3 server refused STLS")

	errClosed = net.ErrClosed
)

// dialer satisfies gopop3.Dialer. Every read and write gets its own
// deadline, and when startTLS is set the connection is upgraded with STLS
// before the client sees it.
type dialer struct {
	timeout  time.Duration
	startTLS *tls.Config
}

func (d *dialer) Dial(network, address string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.timeout}
	raw, err := nd.Dial(network, address)
	if err != nil {
		return nil, err
	}
	conn := net.Conn(&deadlineConn{Conn: raw, timeout: d.timeout})
	if d.startTLS == nil {
		return conn, nil
	}

	upgraded, err := upgrade(conn, d.startTLS)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return upgraded, nil
}

// upgrade reads the greeting, issues STLS, and hands back a TLS conn that
// replays the greeting so the client can read it as usual.
func upgrade(conn net.Conn, config *tls.Config) (net.Conn, error) {
	r := bufio.NewReader(conn)
	greeting, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("pop3 greeting: %w", err)
	}
	if !strings.HasPrefix(greeting, "+OK") {
		return nil, fmt.Errorf("pop3 greeting: %s", strings.TrimSpace(greeting))
	}

	if _, err := conn.Write([]byte("STLS\r\n")); err != nil {
		return nil, fmt.Errorf("pop3 stls: %w", err)
	}
	resp, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("pop3 stls: %w", err)
	}
	if !strings.HasPrefix(resp, "+OK") {
		return nil, fmt.Errorf("%w: %s", ErrSTLSUnsupported, strings.TrimSpace(resp))
	}
	if r.Buffered() > 0 {
		return nil, fmt.Errorf("pop3 stls: unexpected data before handshake")
	}

	tlsConn := tls.Client(conn, config)
	if err := tlsConn.Handshake(); err != nil {
		return nil, fmt.Errorf("pop3 tls handshake: %w", err)
	}
	return &greetingConn{Conn: tlsConn, pending: []byte(greeting)}, nil
}

type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Write(p)
}

// greetingConn serves pending before reading from the wrapped conn.
type greetingConn struct {
	net.Conn
	pending []byte
}

func (c *greetingConn) Read(p []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}
