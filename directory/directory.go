// Package directory talks to the user directory API used for bulk recipient
// expansion and mailbox user administration.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultPort = 9999

var ErrUnexpectedStatus = errors.New("unexpected status from directory api")

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New returns a client for http://host:port.
func New(host string, port int, timeout time.Duration, logger *slog.Logger) *Client {
	if port <= 0 {
		port = DefaultPort
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL: "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Expand returns the addresses matching a wildcard pattern.
func (c *Client) Expand(ctx context.Context, pattern string) ([]string, error) {
	u := c.baseURL + "/users?" + url.Values{"filter_by": {pattern}}.Encode()
	body, err := c.do(ctx, http.MethodGet, u, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	var users []string
	if err := json.Unmarshal(body, &users); err != nil {
		return nil, fmt.Errorf("decode users for %q: %w", pattern, err)
	}
	c.logger.Debug("pattern expanded", "pattern", pattern, "matches", len(users))
	return users, nil
}

// ExpandAll expands every wildcard entry of the three recipient lists,
// keeping literal addresses as they are. Each list is de-duplicated in order
// and the sender is removed from all of them.
func (c *Client) ExpandAll(ctx context.Context, to, cc, bcc []string, sender string) ([]string, []string, []string, error) {
	var err error
	if to, err = c.expandList(ctx, to, sender); err != nil {
		return nil, nil, nil, err
	}
	if cc, err = c.expandList(ctx, cc, sender); err != nil {
		return nil, nil, nil, err
	}
	if bcc, err = c.expandList(ctx, bcc, sender); err != nil {
		return nil, nil, nil, err
	}
	c.logger.Info("recipients expanded", "to", to, "cc", cc, "bcc", bcc)
	return to, cc, bcc, nil
}

func (c *Client) expandList(ctx context.Context, entries []string, sender string) ([]string, error) {
	out := make([]string, 0, len(entries))
	seen := make(map[string]bool)
	add := func(addr string) {
		addr = strings.TrimSpace(addr)
		key := strings.ToLower(addr)
		if addr == "" || seen[key] || strings.EqualFold(addr, sender) {
			return
		}
		seen[key] = true
		out = append(out, addr)
	}

	for _, entry := range entries {
		if !IsPattern(entry) {
			add(entry)
			continue
		}
		users, err := c.Expand(ctx, entry)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			add(u)
		}
	}
	return out, nil
}

// IsPattern reports whether entry uses the * or ? wildcards.
func IsPattern(entry string) bool {
	return strings.ContainsAny(entry, "*?")
}

// Register creates a user. alias is optional.
func (c *Client) Register(ctx context.Context, username, password, alias string) (map[string]any, error) {
	payload := map[string]string{"username": username, "password": password}
	if alias != "" {
		payload["alias"] = alias
	}
	c.logger.Info("registering user", "username", username, "alias", alias, "server", c.baseURL)
	return c.send(ctx, http.MethodPost, "/register", payload, http.StatusCreated)
}

// Delete removes a user.
func (c *Client) Delete(ctx context.Context, username string) (map[string]any, error) {
	c.logger.Info("deleting user", "username", username, "server", c.baseURL)
	return c.send(ctx, http.MethodDelete, "/delete", map[string]string{"username": username}, http.StatusOK)
}

// UpdatePassword changes a user's password.
func (c *Client) UpdatePassword(ctx context.Context, username, password string) (map[string]any, error) {
	c.logger.Info("changing password", "username", username, "server", c.baseURL)
	payload := map[string]string{"username": username, "password": password}
	return c.send(ctx, http.MethodPut, "/update-password", payload, http.StatusOK)
}

func (c *Client) send(ctx context.Context, method, path string, payload any, want int) (map[string]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, method, c.baseURL+path, data, want)

	var out map[string]any
	if len(bytes.TrimSpace(body)) > 0 {
		if jerr := json.Unmarshal(body, &out); jerr != nil && err == nil {
			return nil, fmt.Errorf("decode %s response: %w", path, jerr)
		}
	}
	return out, err
}

func (c *Client) do(ctx context.Context, method, u string, payload []byte, want int) ([]byte, error) {
	var r io.Reader
	if payload != nil {
		r = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != want {
		return body, fmt.Errorf("%w: %s %s returned %d: %s", ErrUnexpectedStatus, method, u, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
