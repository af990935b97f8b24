package credential

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrip(t *testing.T) {
	s := New(keyring.NewArrayKeyring(nil))
	key := Key("SMTP", "alice", "Mail.Example.com")
	assert.Equal(t, "smtp:alice@mail.example.com", key)

	_, err := s.Get(key)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "", s.Lookup(key))

	require.NoError(t, s.Set(key, "hunter2"))
	got, err := s.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
	assert.Equal(t, "hunter2", s.Lookup(key))

	require.NoError(t, s.Delete(key))
	_, err = s.Get(key)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_NilLookup(t *testing.T) {
	var s *Store
	assert.Equal(t, "", s.Lookup("anything"))
}
