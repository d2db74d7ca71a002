package frame

import (
	"encoding/binary"
	"fmt"
)

// ExtractAccessUnit strips the RFC 3640 AU-header block AirPlay2's AAC-ELD
// realtime stream carries in front of each RTP payload's single access
// unit, returning just the AAC bytes Decode expects. Unlike a generic AAC
// depacketizer, this stream carries exactly one access unit per RTP
// packet, so only the first AU header is consulted.
func ExtractAccessUnit(payload []byte) ([]byte, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("frame: access unit payload too short")
	}

	auHeadersLength := binary.BigEndian.Uint16(payload[:2])
	auHeadersLengthBytes := int((auHeadersLength + 7) / 8)
	if auHeadersLengthBytes < 2 || len(payload) < 2+auHeadersLengthBytes+2 {
		return nil, fmt.Errorf("frame: access unit header malformed")
	}

	auHeaders := payload[2 : 2+auHeadersLengthBytes]
	auData := payload[2+auHeadersLengthBytes:]

	// Each AU header is 16 bits: 13-bit size, 3-bit index/delta; only the
	// size field matters for a single-AU-per-packet stream.
	auSize := int(binary.BigEndian.Uint16(auHeaders[:2]) >> 3)
	if auSize <= 0 || auSize > len(auData) {
		return nil, fmt.Errorf("frame: access unit size %d exceeds payload %d", auSize, len(auData))
	}
	return auData[:auSize], nil
}
