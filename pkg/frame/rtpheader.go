package frame

import (
	"encoding/binary"
	"fmt"
)

// rtpHeaderSize is the fixed 12-byte RTP header; AirPlay2 does not use
// CSRC lists on the audio stream.
const rtpHeaderSize = 12

// Header is Apple's variant of RFC 3550's fixed header. Apple packs the
// sequence number into 24 bits and reuses the high byte of what would be
// the 16-bit RFC sequence number as a combined marker/payload-type byte,
// rather than RFC 3550's single marker bit + 7-bit payload type. Treated
// conservatively here per the low-24-bits-plus-separate-byte reading: the
// marker/type byte (byte 1) is decoded the standard RFC 3550 way (bit 7 =
// marker, bits 0-6 = payload type) into Marker/PayloadType, and the
// sequence number is the low 24 bits of the first 32-bit word (bytes
// 1-3), so its top byte is that same marker/type byte.
type Header struct {
	Version      uint8
	Padding      bool
	Extension    bool
	CSRCCount    uint8
	Marker       bool
	PayloadType  uint8
	SequenceNum  uint32 // low 24 bits significant
	Timestamp    uint32
	SSRC         uint32
}

// ParseHeader parses the fixed 12-byte RTP header from the front of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < rtpHeaderSize {
		return Header{}, fmt.Errorf("frame: rtp header too short: %d bytes", len(buf))
	}

	b0 := buf[0]
	b1 := buf[1]

	h := Header{
		Version:     b0 >> 6,
		Padding:     b0&0x20 != 0,
		Extension:   b0&0x10 != 0,
		CSRCCount:   b0 & 0x0f,
		Marker:      b1&0x80 != 0,
		PayloadType: b1 & 0x7f,
	}

	seqWord := binary.BigEndian.Uint32(buf[0:4])
	h.SequenceNum = seqWord & 0x00ffffff

	h.Timestamp = binary.BigEndian.Uint32(buf[4:8])
	h.SSRC = binary.BigEndian.Uint32(buf[8:12])
	return h, nil
}

// AAD returns the 8 bytes (timestamp || SSRC) used as AEAD associated
// data when deciphering this packet's payload — header bytes 4 through
// 11, unauthenticated-but-integrity-checked alongside the ciphertext.
func (h Header) AAD(raw []byte) []byte {
	return raw[4:12]
}

// SeqDelta returns b-a as a signed distance across the 24-bit sequence
// space, handling wraparound the same way the 32-bit RTP-timestamp math
// in anchor.RTPToLocal does.
func SeqDelta(a, b uint32) int32 {
	const mask = 0x00ffffff
	const half = 0x00800000
	d := (int32(b) - int32(a)) & mask
	if d >= half {
		d -= mask + 1
	}
	return d
}
