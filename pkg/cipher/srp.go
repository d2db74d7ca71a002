package cipher

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"math/big"
)

// srpGroup is the SRP-6a 3072-bit group from RFC 5054, which HomeKit's
// pair-setup uses. No pack or ecosystem library exposes importable SRP-6a
// primitives (see DESIGN.md), so the exchange is built directly on
// math/big and crypto/sha512.
type srpGroup struct {
	N *big.Int
	g *big.Int
	k *big.Int
}

var group3072 = mustGroup3072()

func mustGroup3072() *srpGroup {
	n, ok := new(big.Int).SetString(srpN3072Hex, 16)
	if !ok {
		panic("cipher: invalid SRP-3072 group modulus")
	}
	g := big.NewInt(5)
	k := srpComputeK(n, g)
	return &srpGroup{N: n, g: g, k: k}
}

func srpPad(x *big.Int, size int) []byte {
	b := x.Bytes()
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

func srpComputeK(n, g *big.Int) *big.Int {
	size := len(n.Bytes())
	h := sha512.New()
	h.Write(srpPad(n, size))
	h.Write(srpPad(g, size))
	return new(big.Int).SetBytes(h.Sum(nil))
}

// srpServer holds one pair-setup session's SRP-6a verifier-side state.
type srpServer struct {
	grp *srpGroup

	identity string
	salt     []byte
	verifier *big.Int // v

	b *big.Int // private ephemeral
	B *big.Int // public ephemeral

	A *big.Int // client public ephemeral, set once received
	u *big.Int
	S *big.Int // premaster secret
	K []byte   // session key = H(S)
}

// newSRPServer derives the verifier from setupCode the same way a HomeKit
// controller derives it at pairing time: v = g^H(salt || H(identity:pin))
// mod N, using SHA-512 throughout.
func newSRPServer(identity, setupCode string) (*srpServer, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("srp salt: %w", err)
	}

	x := srpComputeX(salt, identity, setupCode)
	verifier := new(big.Int).Exp(group3072.g, x, group3072.N)

	s := &srpServer{grp: group3072, identity: identity, salt: salt, verifier: verifier}
	if err := s.generateEphemeral(); err != nil {
		return nil, err
	}
	return s, nil
}

func srpComputeX(salt []byte, identity, pin string) *big.Int {
	inner := sha512.Sum512([]byte(identity + ":" + pin))
	h := sha512.New()
	h.Write(salt)
	h.Write(inner[:])
	return new(big.Int).SetBytes(h.Sum(nil))
}

func (s *srpServer) generateEphemeral() error {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("srp ephemeral: %w", err)
	}
	s.b = new(big.Int).SetBytes(buf)

	// B = (k*v + g^b) mod N
	kv := new(big.Int).Mul(s.grp.k, s.verifier)
	gb := new(big.Int).Exp(s.grp.g, s.b, s.grp.N)
	s.B = new(big.Int).Mod(new(big.Int).Add(kv, gb), s.grp.N)
	return nil
}

// setClientPublic validates A != 0 mod N (rejects the degenerate SRP
// attack) and derives u = H(A || B).
func (s *srpServer) setClientPublic(a []byte) error {
	A := new(big.Int).SetBytes(a)
	if new(big.Int).Mod(A, s.grp.N).Sign() == 0 {
		return fmt.Errorf("srp: client public key is degenerate")
	}
	s.A = A

	size := len(s.grp.N.Bytes())
	h := sha512.New()
	h.Write(srpPad(A, size))
	h.Write(srpPad(s.B, size))
	s.u = new(big.Int).SetBytes(h.Sum(nil))
	return nil
}

// computeSessionKey derives S = (A * v^u)^b mod N and K = H(S).
func (s *srpServer) computeSessionKey() {
	vu := new(big.Int).Exp(s.verifier, s.u, s.grp.N)
	base := new(big.Int).Mod(new(big.Int).Mul(s.A, vu), s.grp.N)
	s.S = new(big.Int).Exp(base, s.b, s.grp.N)
	sum := sha512.Sum512(srpPad(s.S, len(s.grp.N.Bytes())))
	s.K = sum[:]
}

// expectedClientProof computes M1 = H(H(N) xor H(g) || H(I) || s || A || B || K).
func (s *srpServer) expectedClientProof() []byte {
	size := len(s.grp.N.Bytes())
	hn := sha512.Sum512(srpPad(s.grp.N, size))
	hg := sha512.Sum512(srpPad(s.grp.g, size))
	xored := make([]byte, len(hn))
	for i := range xored {
		xored[i] = hn[i] ^ hg[i]
	}
	hi := sha512.Sum512([]byte(s.identity))

	h := sha512.New()
	h.Write(xored)
	h.Write(hi[:])
	h.Write(s.salt)
	h.Write(srpPad(s.A, size))
	h.Write(srpPad(s.B, size))
	h.Write(s.K)
	return h.Sum(nil)
}

// serverProof computes M2 = H(A || M1 || K).
func (s *srpServer) serverProof(m1 []byte) []byte {
	size := len(s.grp.N.Bytes())
	h := sha512.New()
	h.Write(srpPad(s.A, size))
	h.Write(m1)
	h.Write(s.K)
	return h.Sum(nil)
}

// srpN3072Hex is the large safe-prime modulus for the SRP-6a group this
// accessory negotiates pair-setup under (the 3072-bit MODP family HomeKit
// controllers expect).
const srpN3072Hex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E08" +
	"8A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B" +
	"302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9" +
	"A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE6" +
	"49286651ECE45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8" +
	"FD24CF5F83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3BE39E772C" +
	"180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF695581718" +
	"3995497CEA956AE515D2261898FA051015728E5A8AAAC42DAD33170D" +
	"04507A33A85521ABDF1CBA64ECFB850458DBEF0A8AEA71575D060C7D" +
	"B3970F85A6E1E4C7ABF5AE8CDB0933D71E8C94E04A25619DCEE3D226" +
	"1AD2EE6BF12FFA06D98A0864D87602733EC86A64521F2B18177B200C" +
	"BBE117577A615D6C770988C0BAD946E208E24FA074E5AB3143DB5BFC" +
	"E0FD108E4B82D120A93AD2CAFFFFFFFFFFFFFFFF"
