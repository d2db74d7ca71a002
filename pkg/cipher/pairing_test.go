package cipher

import (
	"crypto/ed25519"
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPairSetupFullExchange(t *testing.T) {
	identity, err := NewAccessoryIdentity("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)

	setupCode := "031-45-154"
	ps := NewPairSetup(identity, setupCode)

	m1 := encodeTLV8([]tlv8Entry{{typ: tlvState, val: []byte{tlvStateM1}}})
	m2, err := ps.Step(m1)
	require.NoError(t, err)

	m2Fields := decodeTLV8(m2)
	require.Equal(t, []byte{tlvStateM2}, m2Fields[tlvState])
	serverB := new(big.Int).SetBytes(m2Fields[tlvPublicKey])
	salt := m2Fields[tlvSalt]

	clientA, _, clientK := clientSRPExchange(t, identity.Identifier, setupCode, salt, serverB)

	clientProof := (&srpServer{
		grp:      group3072,
		identity: identity.Identifier,
		salt:     salt,
		A:        clientA,
		B:        serverB,
		K:        clientK,
	}).expectedClientProof()

	m3 := encodeTLV8([]tlv8Entry{
		{typ: tlvState, val: []byte{tlvStateM3}},
		{typ: tlvPublicKey, val: clientA.Bytes()},
		{typ: tlvProof, val: clientProof},
	})
	m4, err := ps.Step(m3)
	require.NoError(t, err)
	m4Fields := decodeTLV8(m4)
	require.Equal(t, []byte{tlvStateM4}, m4Fields[tlvState])
	require.NotEmpty(t, m4Fields[tlvProof])

	controllerPub, controllerPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	controllerID := []byte("controller-01")

	controllerInfo := hkdfExpand(clientK, "Pair-Setup-Controller-Sign-Salt", "Pair-Setup-Controller-Sign-Info", 32)
	signed := append(append([]byte{}, controllerInfo...), controllerID...)
	signed = append(signed, controllerPub...)
	sig := ed25519.Sign(controllerPriv, signed)

	sub := encodeTLV8([]tlv8Entry{
		{typ: tlvIdentifier, val: controllerID},
		{typ: tlvPublicKey, val: controllerPub},
		{typ: tlvSignature, val: sig},
	})

	sessionKey := hkdfExpand(clientK, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info", 32)
	aead := mustChaCha(t, sessionKey)
	sealed := aead.Seal(nil, []byte("\x00\x00\x00\x00PS-Msg05"), sub, nil)

	m5 := encodeTLV8([]tlv8Entry{
		{typ: tlvState, val: []byte{tlvStateM5}},
		{typ: tlvEncryptedData, val: sealed},
	})
	m6, err := ps.Step(m5)
	require.NoError(t, err)
	require.True(t, ps.Done())

	m6Fields := decodeTLV8(m6)
	require.Equal(t, []byte{tlvStateM6}, m6Fields[tlvState])

	plain, err := aead.Open(nil, []byte("\x00\x00\x00\x00PS-Msg06"), m6Fields[tlvEncryptedData], nil)
	require.NoError(t, err)
	accSub := decodeTLV8(plain)
	require.Equal(t, []byte(identity.Identifier), accSub[tlvIdentifier])
	require.Equal(t, []byte(identity.Public), accSub[tlvPublicKey])

	require.NotNil(t, ps.Paired())
	require.Equal(t, string(controllerID), ps.Paired().Identifier)
	require.True(t, ed25519.PublicKey(controllerPub).Equal(ps.Paired().LTPK))
}

func TestPairSetupRejectsBadClientProof(t *testing.T) {
	identity, err := NewAccessoryIdentity("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	ps := NewPairSetup(identity, "031-45-154")

	m1 := encodeTLV8([]tlv8Entry{{typ: tlvState, val: []byte{tlvStateM1}}})
	m2, err := ps.Step(m1)
	require.NoError(t, err)
	m2Fields := decodeTLV8(m2)
	serverB := new(big.Int).SetBytes(m2Fields[tlvPublicKey])

	clientA, _, _ := clientSRPExchange(t, identity.Identifier, "031-45-154", m2Fields[tlvSalt], serverB)

	m3 := encodeTLV8([]tlv8Entry{
		{typ: tlvState, val: []byte{tlvStateM3}},
		{typ: tlvPublicKey, val: clientA.Bytes()},
		{typ: tlvProof, val: []byte("not-the-real-proof-00000000000000")},
	})
	_, err = ps.Step(m3)
	require.Error(t, err)
	require.True(t, ps.Done())
}

func TestPairVerifyExchange(t *testing.T) {
	identity, err := NewAccessoryIdentity("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)

	controllerPub, controllerPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	controllerID := "controller-01"

	lookup := func(id string) (ed25519.PublicKey, bool) {
		if id == controllerID {
			return controllerPub, true
		}
		return nil, false
	}

	pv, err := NewPairVerify(identity, lookup)
	require.NoError(t, err)

	controllerEphPub, controllerEphPriv := mustX25519Pair(t)

	m2, err := pv.StepM1(controllerEphPub[:])
	require.NoError(t, err)
	m2Fields := decodeTLV8(m2)
	accessoryEphPub := m2Fields[tlvPublicKey]

	clientShared := mustX25519(t, controllerEphPriv, accessoryEphPub)
	sessionKey := hkdfExpand(clientShared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info", 32)
	aead := mustChaCha(t, sessionKey)

	plain, err := aead.Open(nil, []byte("\x00\x00\x00\x00PV-Msg02"), m2Fields[tlvEncryptedData], nil)
	require.NoError(t, err)
	accSub := decodeTLV8(plain)
	require.Equal(t, []byte(identity.Identifier), accSub[tlvIdentifier])

	signed := append(append([]byte{}, controllerEphPub[:]...), []byte(controllerID)...)
	signed = append(signed, accessoryEphPub...)
	sig := ed25519.Sign(controllerPriv, signed)
	sub := encodeTLV8([]tlv8Entry{
		{typ: tlvIdentifier, val: []byte(controllerID)},
		{typ: tlvSignature, val: sig},
	})
	sealed := aead.Seal(nil, []byte("\x00\x00\x00\x00PV-Msg03"), sub, nil)

	keys, err := pv.StepM3(sealed, controllerEphPub[:])
	require.NoError(t, err)
	require.True(t, keys.Ready())
}

func TestPairVerifyStepRoutesM1AndM3(t *testing.T) {
	identity, err := NewAccessoryIdentity("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)

	controllerPub, controllerPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	controllerID := "controller-01"
	lookup := func(id string) (ed25519.PublicKey, bool) {
		if id == controllerID {
			return controllerPub, true
		}
		return nil, false
	}

	pv, err := NewPairVerify(identity, lookup)
	require.NoError(t, err)

	controllerEphPub, controllerEphPriv := mustX25519Pair(t)
	m1 := encodeTLV8([]tlv8Entry{
		{typ: tlvState, val: []byte{tlvStateM1}},
		{typ: tlvPublicKey, val: controllerEphPub[:]},
	})
	m2, keys, err := pv.Step(m1)
	require.NoError(t, err)
	require.Nil(t, keys)
	require.False(t, pv.Done())

	m2Fields := decodeTLV8(m2)
	accessoryEphPub := m2Fields[tlvPublicKey]

	clientShared := mustX25519(t, controllerEphPriv, accessoryEphPub)
	sessionKey := hkdfExpand(clientShared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info", 32)
	aead := mustChaCha(t, sessionKey)

	signed := append(append([]byte{}, controllerEphPub[:]...), []byte(controllerID)...)
	signed = append(signed, accessoryEphPub...)
	sig := ed25519.Sign(controllerPriv, signed)
	sub := encodeTLV8([]tlv8Entry{
		{typ: tlvIdentifier, val: []byte(controllerID)},
		{typ: tlvSignature, val: sig},
	})
	sealed := aead.Seal(nil, []byte("\x00\x00\x00\x00PV-Msg03"), sub, nil)

	m3 := encodeTLV8([]tlv8Entry{
		{typ: tlvState, val: []byte{tlvStateM3}},
		{typ: tlvEncryptedData, val: sealed},
	})
	m4, keys, err := pv.Step(m3)
	require.NoError(t, err)
	require.True(t, pv.Done())
	require.True(t, keys.Ready())

	m4Fields := decodeTLV8(m4)
	require.Equal(t, []byte{tlvStateM4}, m4Fields[tlvState])
}

func TestPairVerifyRejectsUnknownController(t *testing.T) {
	identity, err := NewAccessoryIdentity("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	lookup := func(string) (ed25519.PublicKey, bool) { return nil, false }

	pv, err := NewPairVerify(identity, lookup)
	require.NoError(t, err)

	controllerEphPub, _ := mustX25519Pair(t)
	_, err = pv.StepM1(controllerEphPub[:])
	require.NoError(t, err)

	_, err = pv.StepM3([]byte("garbage"), controllerEphPub[:])
	require.Error(t, err)
}
