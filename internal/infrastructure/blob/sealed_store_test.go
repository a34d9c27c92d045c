package blob

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestSealedStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	store, err := NewSealedStore(inner, testKey())
	require.NoError(t, err)

	payload := []byte("forensic disk image bytes")
	require.NoError(t, store.Put(ctx, "archive/item-1", bytes.NewReader(payload)))

	// The inner store never sees plaintext
	rc, err := inner.Get(ctx, "archive/item-1")
	require.NoError(t, err)
	sealed, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "forensic")
	assert.Greater(t, len(sealed), len(payload))

	rc, err = store.Get(ctx, "archive/item-1")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSealedStoreDetectsTampering(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	store, err := NewSealedStore(inner, testKey())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "archive/item-1", bytes.NewReader([]byte("payload"))))

	rc, err := inner.Get(ctx, "archive/item-1")
	require.NoError(t, err)
	sealed, err := io.ReadAll(rc)
	require.NoError(t, err)

	// Flip one ciphertext byte
	sealed[len(sealed)-1] ^= 0xff
	require.NoError(t, inner.Put(ctx, "archive/item-1", bytes.NewReader(sealed)))

	_, err = store.Get(ctx, "archive/item-1")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "ARCHIVE_CORRUPTED"))
}

func TestSealedStoreKeyBinding(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	store, err := NewSealedStore(inner, testKey())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "archive/item-1", bytes.NewReader([]byte("payload"))))

	// Moving the envelope to another slot breaks the binding
	rc, err := inner.Get(ctx, "archive/item-1")
	require.NoError(t, err)
	sealed, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, inner.Put(ctx, "archive/item-2", bytes.NewReader(sealed)))

	_, err = store.Get(ctx, "archive/item-2")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "ARCHIVE_CORRUPTED"))
}

func TestNewSealedStoreRejectsBadKey(t *testing.T) {
	_, err := NewSealedStore(NewMemoryStore(), []byte("short"))
	require.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "evidence/a", bytes.NewReader([]byte("a"))))
	require.NoError(t, store.Put(ctx, "evidence/b", bytes.NewReader([]byte("b"))))
	require.NoError(t, store.Put(ctx, "other/c", bytes.NewReader([]byte("c"))))

	keys, err := store.List(ctx, "evidence/")
	require.NoError(t, err)
	assert.Equal(t, []string{"evidence/a", "evidence/b"}, keys)

	ok, err := store.Exists(ctx, "evidence/a")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "evidence/a"))
	// Deleting a missing key is idempotent
	require.NoError(t, store.Delete(ctx, "evidence/a"))

	_, err = store.Get(ctx, "evidence/a")
	require.Error(t, err)
}
