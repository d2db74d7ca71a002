// Package cipher implements C1: the HomeKit pair-setup/pair-verify
// handshake and the per-direction AEAD framing of RTSP messages that
// follows it, in the idiom of the teacher's RTSP client (bufio framing,
// length-prefixed reads) but applied to encrypted blocks instead of plain
// request/response text.
package cipher

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// Direction distinguishes the two independent nonce sequences a session
// keeps — inbound (requests from the sender) and outbound (replies to it).
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

// blockMaxPlaintext bounds a single AEAD-sealed block's plaintext so replies
// larger than this are split across multiple length-prefixed blocks, per
// spec.md §4.1.
const blockMaxPlaintext = 1024

// SessionKeys holds the per-direction AEAD state derived from pair-verify.
// Invariant: a nonce value is never reused under a given key (spec.md §3).
type SessionKeys struct {
	mu      sync.Mutex
	inKey   [32]byte
	outKey  [32]byte
	inSeq   uint64
	outSeq  uint64
	inAEAD  ciphersuite
	outAEAD ciphersuite
	ready   bool
}

type ciphersuite interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// NewSessionKeys derives independent inbound/outbound AEAD contexts from the
// 32-byte shared secret pair-verify produced. Direction separation mirrors
// HAP's accessory-to-controller / controller-to-accessory key split.
func NewSessionKeys(inboundKey, outboundKey [32]byte) (*SessionKeys, error) {
	inAEAD, err := chacha20poly1305.New(inboundKey[:])
	if err != nil {
		return nil, fmt.Errorf("build inbound AEAD: %w", err)
	}
	outAEAD, err := chacha20poly1305.New(outboundKey[:])
	if err != nil {
		return nil, fmt.Errorf("build outbound AEAD: %w", err)
	}
	return &SessionKeys{
		inKey:   inboundKey,
		outKey:  outboundKey,
		inAEAD:  inAEAD,
		outAEAD: outAEAD,
		ready:   true,
	}, nil
}

// Ready reports whether a shared secret has been established.
func (s *SessionKeys) Ready() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// nonceFor builds the 12-byte little-endian nonce HAP's AEAD framing uses:
// 4 zero bytes followed by an 8-byte little-endian counter.
func nonceFor(counter uint64) [12]byte {
	var n [12]byte
	binary.LittleEndian.PutUint64(n[4:], counter)
	return n
}

func (s *SessionKeys) nextOutbound() ([12]byte, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := nonceFor(s.outSeq)
	s.outSeq++
	return n, s.outKey[:]
}

func (s *SessionKeys) nextInbound() ([12]byte, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := nonceFor(s.inSeq)
	s.inSeq++
	return n, s.inKey[:]
}
