package local

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certledger/internal/contentstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	payload := []byte(`{"certificateId":"CERT-A"}`)

	hash, err := s.Put(ctx, payload)
	require.NoError(t, err)

	expected, err := contentstore.Address(payload)
	require.NoError(t, err)
	assert.Equal(t, expected, hash)

	got, err := s.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestStore_SamePayloadSameAddress(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	h1, err := s.Put(ctx, []byte(`{"a":1}`))
	require.NoError(t, err)
	h2, err := s.Put(ctx, []byte(`{"a":1}`))
	require.NoError(t, err)
	h3, err := s.Put(ctx, []byte(`{"a":2}`))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	hash, err := contentstore.Address([]byte("never stored"))
	require.NoError(t, err)

	_, err = s.Get(context.Background(), hash)
	assert.ErrorIs(t, err, contentstore.ErrNotFound)
}

func TestStore_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	hash, err := s.Put(ctx, []byte(`{"a":1}`))
	require.NoError(t, err)

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+hash), []byte(`{"a":2}`))
	})
	require.NoError(t, err)

	_, err = s.Get(ctx, hash)
	assert.ErrorIs(t, err, contentstore.ErrCorrupt)
}

func TestStore_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, []byte("x"))
	assert.ErrorIs(t, err, contentstore.ErrUnreachable)
}
