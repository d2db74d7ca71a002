package cipher

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

func mustChaCha(t *testing.T, key []byte) chaChaAEAD {
	t.Helper()
	aead, err := chacha20poly1305.New(key)
	require.NoError(t, err)
	return aead
}

// chaChaAEAD is the subset of cipher.AEAD the test helpers need.
type chaChaAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

func mustX25519Pair(t *testing.T) (pub [32]byte, priv [32]byte) {
	t.Helper()
	_, err := rand.Read(priv[:])
	require.NoError(t, err)
	curve25519.ScalarBaseMult(&pub, &priv)
	return pub, priv
}

func mustX25519(t *testing.T, priv [32]byte, peerPub []byte) []byte {
	t.Helper()
	shared, err := curve25519.X25519(priv[:], peerPub)
	require.NoError(t, err)
	return shared
}
