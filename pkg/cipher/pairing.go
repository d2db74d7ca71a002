package cipher

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// PairedController is a HomeKit controller this accessory remembers,
// identified by its long-term Ed25519 key. Persisting this list across
// restarts is the config/storage collaborator's job; PairSetup only
// produces the record.
type PairedController struct {
	Identifier string
	LTPK       ed25519.PublicKey
}

// AccessoryIdentity is the accessory's own long-term Ed25519 key pair,
// generated once and held for the life of the process (spec.md treats key
// persistence as out of core scope — the supervisor may load/save it).
type AccessoryIdentity struct {
	Identifier string
	Public     ed25519.PublicKey
	Private    ed25519.PrivateKey
}

// NewAccessoryIdentity generates a fresh long-term key pair.
func NewAccessoryIdentity(identifier string) (*AccessoryIdentity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate accessory identity: %w", err)
	}
	return &AccessoryIdentity{Identifier: identifier, Public: pub, Private: priv}, nil
}

// PairSetup drives the M1..M6 SRP exchange for one pairing attempt. Each
// call to Step hands it one TLV8-encoded request body and gets back the
// TLV8-encoded reply; Done reports whether the exchange finished (M6 sent)
// so the caller can discard the PairSetup afterward.
type PairSetup struct {
	identity  *AccessoryIdentity
	setupCode string
	srp       *srpServer
	done      bool
	paired    *PairedController
}

// NewPairSetup begins a pair-setup attempt. setupCode is the 8-digit
// HomeKit pin shown to the user; identity must already be provisioned on
// the accessory.
func NewPairSetup(identity *AccessoryIdentity, setupCode string) *PairSetup {
	return &PairSetup{identity: identity, setupCode: setupCode}
}

// Paired returns the controller record once M5 has been processed, or nil
// before that.
func (p *PairSetup) Paired() *PairedController { return p.paired }

// Done reports whether the exchange has completed (successfully or with a
// terminal protocol error already written to the last reply).
func (p *PairSetup) Done() bool { return p.done }

// Step consumes one request body and returns the matching reply body.
func (p *PairSetup) Step(body []byte) ([]byte, error) {
	req := decodeTLV8(body)
	state := byte(0)
	if v, ok := req[tlvState]; ok && len(v) == 1 {
		state = v[0]
	}

	switch state {
	case tlvStateM1:
		return p.handleM1(p.setupCode)
	case tlvStateM3:
		return p.handleM3(req)
	case tlvStateM5:
		return p.handleM5(req)
	default:
		p.done = true
		return p.errorReply(tlvStateM2, tlvErrorAuthentication), fmt.Errorf("pair-setup: unexpected state %d", state)
	}
}

func (p *PairSetup) errorReply(state, code byte) []byte {
	return encodeTLV8([]tlv8Entry{
		{typ: tlvState, val: []byte{state}},
		{typ: tlvError, val: []byte{code}},
	})
}

func (p *PairSetup) handleM1(setupCode string) ([]byte, error) {
	srv, err := newSRPServer(p.identity.Identifier, setupCode)
	if err != nil {
		p.done = true
		return p.errorReply(tlvStateM2, tlvErrorAuthentication), err
	}
	p.srp = srv

	return encodeTLV8([]tlv8Entry{
		{typ: tlvState, val: []byte{tlvStateM2}},
		{typ: tlvPublicKey, val: srv.B.Bytes()},
		{typ: tlvSalt, val: srv.salt},
	}), nil
}

func (p *PairSetup) handleM3(req map[byte][]byte) ([]byte, error) {
	if p.srp == nil {
		p.done = true
		return p.errorReply(tlvStateM4, tlvErrorAuthentication), fmt.Errorf("pair-setup: M3 before M1")
	}
	a, ok := req[tlvPublicKey]
	m1, okProof := req[tlvProof]
	if !ok || !okProof {
		p.done = true
		return p.errorReply(tlvStateM4, tlvErrorAuthentication), fmt.Errorf("pair-setup: M3 missing fields")
	}

	if err := p.srp.setClientPublic(a); err != nil {
		p.done = true
		return p.errorReply(tlvStateM4, tlvErrorAuthentication), err
	}
	p.srp.computeSessionKey()

	expected := p.srp.expectedClientProof()
	if !hmacEqual(expected, m1) {
		p.done = true
		return p.errorReply(tlvStateM4, tlvErrorAuthentication), fmt.Errorf("pair-setup: client proof mismatch")
	}

	m2 := p.srp.serverProof(m1)
	return encodeTLV8([]tlv8Entry{
		{typ: tlvState, val: []byte{tlvStateM4}},
		{typ: tlvProof, val: m2},
	}), nil
}

func (p *PairSetup) handleM5(req map[byte][]byte) ([]byte, error) {
	enc, ok := req[tlvEncryptedData]
	if !ok || p.srp == nil {
		p.done = true
		return p.errorReply(tlvStateM6, tlvErrorAuthentication), fmt.Errorf("pair-setup: M5 missing encrypted data")
	}

	sessionKey := hkdfExpand(p.srp.K, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info", 32)
	aead, err := chacha20poly1305.New(sessionKey)
	if err != nil {
		p.done = true
		return p.errorReply(tlvStateM6, tlvErrorAuthentication), err
	}
	if len(enc) < chacha20poly1305.Overhead {
		p.done = true
		return p.errorReply(tlvStateM6, tlvErrorAuthentication), fmt.Errorf("pair-setup: encrypted sub-tlv too short")
	}
	plain, err := aead.Open(nil, []byte("\x00\x00\x00\x00PS-Msg05"), enc, nil)
	if err != nil {
		p.done = true
		return p.errorReply(tlvStateM6, tlvErrorAuthentication), fmt.Errorf("pair-setup: M5 decrypt failed: %w", err)
	}

	sub := decodeTLV8(plain)
	controllerID, ltpk := sub[tlvIdentifier], sub[tlvPublicKey]
	sig := sub[tlvSignature]
	if len(controllerID) == 0 || len(ltpk) != ed25519.PublicKeySize || len(sig) == 0 {
		p.done = true
		return p.errorReply(tlvStateM6, tlvErrorAuthentication), fmt.Errorf("pair-setup: malformed controller sub-tlv")
	}

	controllerInfo := hkdfExpand(p.srp.K, "Pair-Setup-Controller-Sign-Salt", "Pair-Setup-Controller-Sign-Info", 32)
	signed := append(append([]byte{}, controllerInfo...), controllerID...)
	signed = append(signed, ltpk...)
	if !ed25519.Verify(ed25519.PublicKey(ltpk), signed, sig) {
		p.done = true
		return p.errorReply(tlvStateM6, tlvErrorAuthentication), fmt.Errorf("pair-setup: controller signature invalid")
	}

	p.paired = &PairedController{Identifier: string(controllerID), LTPK: ed25519.PublicKey(ltpk)}

	accessoryInfo := hkdfExpand(p.srp.K, "Pair-Setup-Accessory-Sign-Salt", "Pair-Setup-Accessory-Sign-Info", 32)
	accessorySigned := append(append([]byte{}, accessoryInfo...), []byte(p.identity.Identifier)...)
	accessorySigned = append(accessorySigned, p.identity.Public...)
	accessorySig := ed25519.Sign(p.identity.Private, accessorySigned)

	accessorySub := encodeTLV8([]tlv8Entry{
		{typ: tlvIdentifier, val: []byte(p.identity.Identifier)},
		{typ: tlvPublicKey, val: p.identity.Public},
		{typ: tlvSignature, val: accessorySig},
	})
	sealed := aead.Seal(nil, []byte("\x00\x00\x00\x00PS-Msg06"), accessorySub, nil)

	p.done = true
	return encodeTLV8([]tlv8Entry{
		{typ: tlvState, val: []byte{tlvStateM6}},
		{typ: tlvEncryptedData, val: sealed},
	}), nil
}

// PairVerify drives the 2-message curve25519 key-agreement that
// establishes the per-session keys an already-paired controller uses.
type PairVerify struct {
	identity *AccessoryIdentity
	lookup   func(identifier string) (ed25519.PublicKey, bool)

	accessoryPriv [32]byte
	accessoryPub  [32]byte
	sharedSecret  [32]byte
	controllerPub []byte
	verified      bool
	done          bool
}

// NewPairVerify begins a pair-verify exchange. lookup resolves a
// previously-paired controller's long-term public key by identifier.
func NewPairVerify(identity *AccessoryIdentity, lookup func(identifier string) (ed25519.PublicKey, bool)) (*PairVerify, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("pair-verify ephemeral: %w", err)
	}
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &priv)
	return &PairVerify{identity: identity, lookup: lookup, accessoryPriv: priv, accessoryPub: pub}, nil
}

// Done reports whether the verify exchange has completed (successfully
// or not); dispatch uses this to route a second POST /pair-verify body
// to StepM3 instead of re-running StepM1.
func (v *PairVerify) Done() bool { return v.done }

// Step parses a TLV8-encoded pair-verify request body and routes it to
// StepM1 or StepM3 by its state byte, returning the session keys once M3
// succeeds. This mirrors PairSetup.Step's single-entry-point shape so
// dispatch doesn't need to know the wire format of either exchange.
func (v *PairVerify) Step(body []byte) (reply []byte, keys *SessionKeys, err error) {
	req := decodeTLV8(body)
	switch req[tlvState][0] {
	case tlvStateM1:
		reply, err = v.StepM1(req[tlvPublicKey])
		return reply, nil, err
	case tlvStateM3:
		keys, err = v.StepM3(req[tlvEncryptedData], v.controllerPub)
		v.done = true
		if err != nil {
			return nil, nil, err
		}
		reply = encodeTLV8([]tlv8Entry{{typ: tlvState, val: []byte{tlvStateM4}}})
		return reply, keys, nil
	default:
		return nil, nil, fmt.Errorf("pair-verify: unexpected state %v", req[tlvState])
	}
}

// StepM1 accepts the controller's curve25519 public key and returns the
// accessory's M2 reply (its own public key plus a signed, encrypted proof).
func (v *PairVerify) StepM1(controllerPub []byte) ([]byte, error) {
	if len(controllerPub) != 32 {
		return nil, fmt.Errorf("pair-verify: bad controller public key length")
	}
	var cpub [32]byte
	copy(cpub[:], controllerPub)
	v.controllerPub = append([]byte{}, controllerPub...)

	shared, err := curve25519.X25519(v.accessoryPriv[:], cpub[:])
	if err != nil {
		return nil, fmt.Errorf("pair-verify: key agreement: %w", err)
	}
	copy(v.sharedSecret[:], shared)

	signed := append(append([]byte{}, v.accessoryPub[:]...), []byte(v.identity.Identifier)...)
	signed = append(signed, controllerPub...)
	sig := ed25519.Sign(v.identity.Private, signed)

	sub := encodeTLV8([]tlv8Entry{
		{typ: tlvIdentifier, val: []byte(v.identity.Identifier)},
		{typ: tlvSignature, val: sig},
	})

	sessionKey := hkdfExpand(v.sharedSecret[:], "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info", 32)
	aead, err := chacha20poly1305.New(sessionKey)
	if err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, []byte("\x00\x00\x00\x00PV-Msg02"), sub, nil)

	return encodeTLV8([]tlv8Entry{
		{typ: tlvState, val: []byte{tlvStateM2}},
		{typ: tlvPublicKey, val: v.accessoryPub[:]},
		{typ: tlvEncryptedData, val: sealed},
	}), nil
}

// StepM3 verifies the controller's signed identity and, on success,
// derives the session's inbound/outbound AEAD keys.
func (v *PairVerify) StepM3(encryptedSub, controllerPub []byte) (*SessionKeys, error) {
	sessionKey := hkdfExpand(v.sharedSecret[:], "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info", 32)
	aead, err := chacha20poly1305.New(sessionKey)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, []byte("\x00\x00\x00\x00PV-Msg03"), encryptedSub, nil)
	if err != nil {
		return nil, fmt.Errorf("pair-verify: M3 decrypt failed: %w", err)
	}

	sub := decodeTLV8(plain)
	controllerID, sig := sub[tlvIdentifier], sub[tlvSignature]
	ltpk, ok := v.lookup(string(controllerID))
	if !ok {
		return nil, fmt.Errorf("pair-verify: unknown controller %q", controllerID)
	}

	signed := append(append([]byte{}, controllerPub...), controllerID...)
	signed = append(signed, v.accessoryPub[:]...)
	if !ed25519.Verify(ltpk, signed, sig) {
		return nil, fmt.Errorf("pair-verify: controller signature invalid")
	}
	v.verified = true

	readKey := hkdfExpand(v.sharedSecret[:], "Control-Salt", "Control-Read-Encryption-Key", 32)
	writeKey := hkdfExpand(v.sharedSecret[:], "Control-Salt", "Control-Write-Encryption-Key", 32)
	var in, out [32]byte
	copy(in[:], readKey)
	copy(out[:], writeKey)
	return NewSessionKeys(in, out)
}

// AudioKey derives the per-session RTP AEAD key from the pair-verify
// shared secret, the same HKDF-SHA512 construction StepM3 uses for the
// control channel's read/write keys but with a distinct salt/info pair
// so a control-channel key leak can't be replayed against audio frames.
// Valid only after a successful StepM3.
func (v *PairVerify) AudioKey() [32]byte {
	raw := hkdfExpand(v.sharedSecret[:], "AirPlay2-Streaming-Salt", "AirPlay2-Streaming-Key", 32)
	var key [32]byte
	copy(key[:], raw)
	return key
}

func hkdfExpand(secret []byte, salt, info string, size int) []byte {
	r := hkdf.New(sha512.New, secret, []byte(salt), []byte(info))
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		panic("cipher: hkdf expand: " + err.Error())
	}
	return out
}

func hmacEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
