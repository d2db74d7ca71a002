package frame

import (
	"errors"
	"testing"
)

var errDecodeBoom = errors.New("synthetic decoder failure")

// sealForTest seals plaintext the same way the transmitting side would,
// for constructing fixtures that f.Decipher can open. It seals with c's
// own AEAD, which NewAudioCipher builds with chacha20poly1305 and which
// therefore also implements Seal.
func sealForTest(t *testing.T, c *AudioCipher, nonce8 [8]byte, aad, plaintext []byte) []byte {
	t.Helper()
	aead, ok := c.aead.(interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
	})
	if !ok {
		t.Fatal("audio cipher AEAD does not support Seal")
	}
	var nonce12 [12]byte
	copy(nonce12[4:], nonce8[:])
	return aead.Seal(nil, nonce12[:], plaintext, aad)
}
