package blob

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
)

// SealedStore encrypts payloads before handing them to the underlying store
// and decrypts on retrieval. Archived evidence goes through this store so
// cold storage operators never see plaintext. XChaCha20-Poly1305 with a
// random nonce per object; the nonce is prepended to the ciphertext.
type SealedStore struct {
	inner Store
	aead  cipher.AEAD
}

// NewSealedStore wraps a store with a 32-byte encryption key
func NewSealedStore(inner Store, key []byte) (*SealedStore, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.NewValidationError("INVALID_KEY_SIZE",
			"sealed store key must be 32 bytes")
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.NewInternalError("initializing cipher failed").WithCause(err)
	}

	return &SealedStore{inner: inner, aead: aead}, nil
}

// Put encrypts the payload and stores the sealed envelope
func (s *SealedStore) Put(ctx context.Context, key string, reader io.Reader) error {
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return errors.NewStorageUnavailableError("reading payload failed").WithCause(err)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return errors.NewInternalError("generating nonce failed").WithCause(err)
	}

	// The blob key binds the envelope to its slot
	sealed := s.aead.Seal(nonce, nonce, plaintext, []byte(key))
	return s.inner.Put(ctx, key, bytes.NewReader(sealed))
}

// Get retrieves and decrypts a sealed envelope. A failed authentication tag
// means the archive was corrupted or tampered with.
func (s *SealedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	sealed, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.NewStorageUnavailableError("reading sealed envelope failed").WithCause(err)
	}

	if len(sealed) < s.aead.NonceSize() {
		return nil, errors.NewIntegrityError("ARCHIVE_CORRUPTED",
			"sealed envelope is truncated")
	}

	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, errors.NewIntegrityError("ARCHIVE_CORRUPTED",
			"sealed envelope failed authentication").WithCause(err)
	}

	return io.NopCloser(bytes.NewReader(plaintext)), nil
}

// Delete removes the sealed envelope
func (s *SealedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

// Exists reports whether a sealed envelope is stored under key
func (s *SealedStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.inner.Exists(ctx, key)
}

// List returns the keys with the given prefix
func (s *SealedStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}
