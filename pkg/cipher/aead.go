package cipher

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// lengthPrefix is the 2-byte little-endian length HAP uses ahead of each
// sealed block (the AAD for that block's Poly1305 tag).
const lengthPrefix = 2

// Encrypt splits plaintext into blockMaxPlaintext-sized chunks and seals
// each one, prefixed with its own 2-byte little-endian length (used as AAD)
// and trailed by its 16-byte Poly1305 tag. Nonce counters increment once
// per sealed block.
func (s *SessionKeys) Encrypt(plaintext []byte) ([]byte, error) {
	if !s.Ready() {
		return plaintext, nil
	}

	var out []byte
	for len(plaintext) > 0 {
		n := len(plaintext)
		if n > blockMaxPlaintext {
			n = blockMaxPlaintext
		}
		chunk := plaintext[:n]
		plaintext = plaintext[n:]

		var lenBuf [lengthPrefix]byte
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(n))

		nonce, _ := s.nextOutbound()
		s.mu.Lock()
		aead := s.outAEAD
		s.mu.Unlock()

		sealed := aead.Seal(nil, nonce[:], chunk, lenBuf[:])

		out = append(out, lenBuf[:]...)
		out = append(out, sealed...)
	}
	return out, nil
}

// Decrypt consumes whole sealed blocks from the front of buf, returning the
// concatenated plaintext and the number of input bytes consumed. A partial
// trailing block (the TCP read split a message mid-block) is left
// untouched so the caller can append more data and retry — decrypt must be
// idempotent over partial buffers (spec.md §4.1 rationale).
func (s *SessionKeys) Decrypt(buf []byte) (plaintext []byte, consumed int, err error) {
	if !s.Ready() {
		return buf, len(buf), nil
	}

	for len(buf) >= lengthPrefix {
		n := int(binary.LittleEndian.Uint16(buf[:lengthPrefix]))
		blockLen := lengthPrefix + n + chacha20poly1305.Overhead
		if len(buf) < blockLen {
			break // partial block; wait for more data
		}

		lenBuf := buf[:lengthPrefix]
		sealed := buf[lengthPrefix:blockLen]

		nonce, _ := s.nextInbound()
		s.mu.Lock()
		aead := s.inAEAD
		s.mu.Unlock()

		open, oerr := aead.Open(nil, nonce[:], sealed, lenBuf)
		if oerr != nil {
			return nil, consumed, fmt.Errorf("AEAD open failed: %w", oerr)
		}

		plaintext = append(plaintext, open...)
		consumed += blockLen
		buf = buf[blockLen:]
	}
	return plaintext, consumed, nil
}
