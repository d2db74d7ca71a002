package frame

import (
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// AudioCipher decrypts RTP payloads under the per-session audio key
// negotiated during SETUP. AirPlay2's RTP AEAD nonce ("apple-mini") is
// the packet's own 8-byte nonce field left-padded with 4 zero bytes to
// reach ChaCha20-Poly1305's 12-byte nonce size — unlike the control
// channel's little-endian counter nonce in pkg/cipher, this nonce is
// carried on the wire per packet, not derived from a sequence counter.
type AudioCipher struct {
	aead chacha20poly1305Impl
}

// chacha20poly1305Impl is the subset of cipher.AEAD this package touches;
// kept as a named type so decrypt.go doesn't import crypto/cipher just
// for the one interface value chacha20poly1305.New already returns.
type chacha20poly1305Impl = interface {
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// NewAudioCipher derives the AEAD context from the 32-byte session audio
// key.
func NewAudioCipher(key [32]byte) (*AudioCipher, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("frame: build audio AEAD: %w", err)
	}
	return &AudioCipher{aead: aead}, nil
}

// Decrypt opens one RTP payload. nonce8 is the packet's trailing 8-byte
// nonce field, aad is header[4:12] (timestamp || SSRC), and sealed is the
// payload with its trailing 16-byte Poly1305 tag still attached.
func (c *AudioCipher) Decrypt(nonce8 [8]byte, aad, sealed []byte) ([]byte, error) {
	var nonce [12]byte
	copy(nonce[4:], nonce8[:])

	plain, err := c.aead.Open(nil, nonce[:], sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("frame: AEAD open failed: %w", err)
	}
	return plain, nil
}
