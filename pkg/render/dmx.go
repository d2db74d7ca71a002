// Package render implements C6: the timestamp-driven loop that turns
// frames Racked has marked READY into DmxDataMsg records for the
// downstream lighting transport, synthesizing silence whenever no usable
// clock anchor exists.
package render

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// dmxMagic trails every message as a 2-byte sanity marker the downstream
// reader can use to detect stream desync.
var dmxMagic = [2]byte{0xD5, 0x4A}

// DmxDataMsg is the msgpack payload C6 ships per render tick (spec.md
// §4.6). DFrame is populated by the light-show FX collaborator; C6 only
// guarantees its length and zero-fills it for silent frames.
type DmxDataMsg struct {
	Type       string  `msgpack:"type"`
	SeqNum     uint32  `msgpack:"seq_num"`
	Timestamp  uint32  `msgpack:"timestamp"`
	Silence    bool    `msgpack:"silence"`
	LeadTimeUS int64   `msgpack:"lead_time_us"`
	SyncWaitUS int64   `msgpack:"sync_wait_us"`
	DFrame     [16]byte `msgpack:"dframe"`
	NowUS      int64   `msgpack:"now_us"`
	NowRealUS  int64   `msgpack:"now_real_us"`
}

// DataReply is the reader's optional response to a DmxDataMsg.
type DataReply struct {
	Type       string `msgpack:"type"`
	EchoNowUS  int64  `msgpack:"echo_now_us"`
	ElapsedUS  int64  `msgpack:"elapsed_us"`
}

// EncodeFrame marshals msg and length-prefixes it with a big-endian
// uint16 body length plus the trailing magic, ready to write to the DMX
// socket.
func EncodeFrame(msg DmxDataMsg) ([]byte, error) {
	body, err := msgpack.Marshal(&msg)
	if err != nil {
		return nil, fmt.Errorf("render: marshal DmxDataMsg: %w", err)
	}
	body = append(body, dmxMagic[:]...)
	if len(body) > 0xffff {
		return nil, fmt.Errorf("render: encoded frame too large: %d bytes", len(body))
	}

	out := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(out, uint16(len(body)))
	copy(out[2:], body)
	return out, nil
}

// DecodeReply reads one length-prefixed DataReply from the front of buf,
// returning the reply, the total bytes consumed, and ok=false if buf
// doesn't yet hold a complete message.
func DecodeReply(buf []byte) (reply DataReply, consumed int, ok bool, err error) {
	if len(buf) < 2 {
		return DataReply{}, 0, false, nil
	}
	bodyLen := int(binary.BigEndian.Uint16(buf))
	total := 2 + bodyLen
	if len(buf) < total {
		return DataReply{}, 0, false, nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(buf[2:total]))
	if err := dec.Decode(&reply); err != nil {
		return DataReply{}, 0, false, fmt.Errorf("render: decode DataReply: %w", err)
	}
	return reply, total, true, nil
}
