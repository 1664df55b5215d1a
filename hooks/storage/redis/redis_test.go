package redis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewWithClient(client)
}

func TestPutGetDelete(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put("client_abc", []byte("hello")))

	v, ok, err := s.Get("client_abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), v)

	require.NoError(t, s.Delete("client_abc"))
	_, ok, err = s.Get("client_abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeletePrefix(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put("sub_c1:a/b", []byte("1")))
	require.NoError(t, s.Put("sub_c1:c/d", []byte("2")))
	require.NoError(t, s.Put("sub_c2:a/b", []byte("3")))

	require.NoError(t, s.DeletePrefix("sub_c1:"))

	_, ok, _ := s.Get("sub_c1:a/b")
	assert.False(t, ok)
	_, ok, _ = s.Get("sub_c2:a/b")
	assert.True(t, ok)
}
