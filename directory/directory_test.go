package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu       sync.Mutex
	users    map[string][]string
	requests []map[string]string
	queries  []string
}

func (f *fakeAPI) seen() ([]string, []map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...), append([]map[string]string(nil), f.requests...)
}

func (f *fakeAPI) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/users", func(w http.ResponseWriter, r *http.Request) {
		pattern := r.URL.Query().Get("filter_by")
		f.mu.Lock()
		f.queries = append(f.queries, pattern)
		f.mu.Unlock()
		users, ok := f.users[pattern]
		if !ok {
			users = []string{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(users)
	})
	r.Post("/register", f.record(http.StatusCreated))
	r.Delete("/delete", f.record(http.StatusOK))
	r.Put("/update-password", f.record(http.StatusOK))
	return r
}

func (f *fakeAPI) record(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, payload)
		f.mu.Unlock()
		if payload["username"] == "taken@example.com" {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "user exists"})
			return
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	}
}

func newClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.router())
	t.Cleanup(srv.Close)

	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return New(host, p, 5*time.Second, nil)
}

func TestExpand(t *testing.T) {
	api := &fakeAPI{users: map[string][]string{"*@corp.test": {"a@corp.test", "b@corp.test"}}}
	c := newClient(t, api)

	users, err := c.Expand(context.Background(), "*@corp.test")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@corp.test", "b@corp.test"}, users)
	queries, _ := api.seen()
	assert.Equal(t, []string{"*@corp.test"}, queries)
}

func TestExpandAll(t *testing.T) {
	api := &fakeAPI{users: map[string][]string{
		"*@corp.test":    {"a@corp.test", "boss@corp.test", "b@corp.test"},
		"b?@corp.test":   {"b1@corp.test"},
		"ops*@corp.test": {"ops@corp.test", "A@corp.test"},
	}}
	c := newClient(t, api)

	to, cc, bcc, err := c.ExpandAll(context.Background(),
		[]string{"*@corp.test", "x@other.test", "a@corp.test"},
		[]string{"b?@corp.test", "boss@corp.test"},
		[]string{"ops*@corp.test"},
		"boss@corp.test",
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@corp.test", "b@corp.test", "x@other.test"}, to)
	assert.Equal(t, []string{"b1@corp.test"}, cc)
	assert.Equal(t, []string{"ops@corp.test", "A@corp.test"}, bcc)
	queries, _ := api.seen()
	assert.Len(t, queries, 3, "literal addresses must not hit the api")
}

func TestExpand_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	host, port, _ := net.SplitHostPort(srv.Listener.Addr().String())
	p, _ := strconv.Atoi(port)

	_, err := New(host, p, time.Second, nil).Expand(context.Background(), "*")
	assert.True(t, errors.Is(err, ErrUnexpectedStatus))
}

func TestUserAdmin(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(t, api)
	ctx := context.Background()

	body, err := c.Register(ctx, "new@example.com", "pw", "alias@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ok", body["message"])

	_, err = c.Register(ctx, "plain@example.com", "pw", "")
	require.NoError(t, err)

	_, err = c.UpdatePassword(ctx, "new@example.com", "pw2")
	require.NoError(t, err)

	_, err = c.Delete(ctx, "new@example.com")
	require.NoError(t, err)

	_, requests := api.seen()
	require.Len(t, requests, 4)
	assert.Equal(t, map[string]string{"username": "new@example.com", "password": "pw", "alias": "alias@example.com"}, requests[0])
	assert.Equal(t, map[string]string{"username": "plain@example.com", "password": "pw"}, requests[1])
	assert.Equal(t, map[string]string{"username": "new@example.com", "password": "pw2"}, requests[2])
	assert.Equal(t, map[string]string{"username": "new@example.com"}, requests[3])
}

func TestUserAdmin_UnexpectedStatus(t *testing.T) {
	c := newClient(t, &fakeAPI{})

	body, err := c.Register(context.Background(), "taken@example.com", "pw", "")
	assert.True(t, errors.Is(err, ErrUnexpectedStatus))
	assert.Equal(t, "user exists", body["error"])
}

func TestIsPattern(t *testing.T) {
	assert.True(t, IsPattern("*@corp.test"))
	assert.True(t, IsPattern("user?@corp.test"))
	assert.False(t, IsPattern("user@corp.test"))
}
