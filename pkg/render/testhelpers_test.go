package render

import (
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

// encodeReplyForTest builds a length-prefixed DataReply the same way a
// downstream DMX reader would, for exercising DecodeReply.
func encodeReplyForTest(reply DataReply) ([]byte, error) {
	body, err := msgpack.Marshal(&reply)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(out, uint16(len(body)))
	copy(out[2:], body)
	return out, nil
}
