package cipher

// tlv8 is the type-length-value wire format HomeKit pair-setup/pair-verify
// bodies use: each entry is a 1-byte type, a 1-byte length, and up to 255
// bytes of value. A logical value longer than 255 bytes is split across
// consecutive entries of the same type.

type tlv8Entry struct {
	typ byte
	val []byte
}

func encodeTLV8(entries []tlv8Entry) []byte {
	var out []byte
	for _, e := range entries {
		v := e.val
		if len(v) == 0 {
			out = append(out, e.typ, 0)
			continue
		}
		for len(v) > 0 {
			n := len(v)
			if n > 255 {
				n = 255
			}
			out = append(out, e.typ, byte(n))
			out = append(out, v[:n]...)
			v = v[n:]
		}
	}
	return out
}

// decodeTLV8 merges consecutive same-type fragments back into one value,
// matching the splitting rule encodeTLV8 applies.
func decodeTLV8(buf []byte) map[byte][]byte {
	out := map[byte][]byte{}
	order := []byte{}
	last := byte(0xff)
	for len(buf) >= 2 {
		typ := buf[0]
		n := int(buf[1])
		buf = buf[2:]
		if n > len(buf) {
			n = len(buf)
		}
		val := buf[:n]
		buf = buf[n:]

		if typ == last && n == 255 {
			out[typ] = append(out[typ], val...)
		} else if existing, ok := out[typ]; ok {
			out[typ] = append(existing, val...)
		} else {
			out[typ] = append([]byte{}, val...)
			order = append(order, typ)
		}
		last = typ
	}
	return out
}

// Pair-setup / pair-verify TLV8 type tags, per the HomeKit accessory
// protocol's pairing TLV registry.
const (
	tlvMethod    byte = 0x00
	tlvIdentifier byte = 0x01
	tlvSalt      byte = 0x02
	tlvPublicKey byte = 0x03
	tlvProof     byte = 0x04
	tlvEncryptedData byte = 0x05
	tlvState     byte = 0x06
	tlvError     byte = 0x07
	tlvSignature byte = 0x0a
)

const (
	tlvStateM1 byte = 1
	tlvStateM2 byte = 2
	tlvStateM3 byte = 3
	tlvStateM4 byte = 4
	tlvStateM5 byte = 5
	tlvStateM6 byte = 6
)

const tlvErrorAuthentication byte = 2
