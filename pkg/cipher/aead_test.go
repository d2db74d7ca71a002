package cipher

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSessionPair(t *testing.T) (a2b *SessionKeys, b2a *SessionKeys) {
	t.Helper()
	var kAB, kBA [32]byte
	_, err := rand.Read(kAB[:])
	require.NoError(t, err)
	_, err = rand.Read(kBA[:])
	require.NoError(t, err)

	// a2b: A encrypts outbound with kAB, B decrypts inbound with kAB.
	a, err := NewSessionKeys(kBA, kAB)
	require.NoError(t, err)
	b, err := NewSessionKeys(kAB, kBA)
	require.NoError(t, err)
	return a, b
}

func TestEncryptDecryptRoundTripSingleBlock(t *testing.T) {
	a, b := newTestSessionPair(t)

	plaintext := []byte("RECORD rtsp://1.2.3.4/stream RTSP/1.0\r\n\r\n")
	sealed, err := a.Encrypt(plaintext)
	require.NoError(t, err)

	out, consumed, err := b.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, len(sealed), consumed)
	require.Equal(t, plaintext, out)
}

func TestEncryptDecryptRoundTripMultiBlock(t *testing.T) {
	a, b := newTestSessionPair(t)

	plaintext := bytes.Repeat([]byte{0x5a}, blockMaxPlaintext*3+17)
	sealed, err := a.Encrypt(plaintext)
	require.NoError(t, err)

	out, consumed, err := b.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, len(sealed), consumed)
	require.Equal(t, plaintext, out)
}

func TestDecryptHandlesPartialTrailingBlock(t *testing.T) {
	a, b := newTestSessionPair(t)

	plaintext := []byte("first message")
	sealed, err := a.Encrypt(plaintext)
	require.NoError(t, err)

	// Feed everything but the last byte: decrypt should consume nothing
	// and wait for the rest, as a split TCP read would require.
	out, consumed, err := b.Decrypt(sealed[:len(sealed)-1])
	require.NoError(t, err)
	require.Equal(t, 0, consumed)
	require.Empty(t, out)

	out, consumed, err = b.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, len(sealed), consumed)
	require.Equal(t, plaintext, out)
}

// TestDecryptRejectsTamperedCiphertext exercises the AEAD MAC-failure
// scenario: a single flipped bit anywhere in a sealed block must surface
// as an error, never as corrupted plaintext.
func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	a, b := newTestSessionPair(t)

	sealed, err := a.Encrypt([]byte("SET_PARAMETER volume: -15.0\r\n"))
	require.NoError(t, err)

	tampered := append([]byte{}, sealed...)
	tampered[len(tampered)-1] ^= 0x01

	_, _, err = b.Decrypt(tampered)
	require.Error(t, err)
}

func TestEncryptPassthroughBeforeSessionReady(t *testing.T) {
	var s *SessionKeys
	out, err := s.Encrypt([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), out)
}

func TestNonceCounterNeverRepeatsAcrossMessages(t *testing.T) {
	a, b := newTestSessionPair(t)

	for i := 0; i < 5; i++ {
		sealed, err := a.Encrypt([]byte("frame"))
		require.NoError(t, err)
		out, consumed, err := b.Decrypt(sealed)
		require.NoError(t, err)
		require.Equal(t, len(sealed), consumed)
		require.Equal(t, []byte("frame"), out)
	}
}
