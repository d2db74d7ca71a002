package rtsp

import (
	"bytes"
	"fmt"

	"howett.net/plist"
)

// DecodePlist unmarshals an Apple binary ("bplist00") body into v, the
// format SETUP/RECORD/SET_PARAMETER request bodies and GET /info replies
// use.
func DecodePlist(body []byte, v any) error {
	if _, err := plist.Unmarshal(body, v); err != nil {
		return fmt.Errorf("rtsp: decode plist body: %w", err)
	}
	return nil
}

// EncodePlist marshals v as a binary plist body.
func EncodePlist(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := plist.NewEncoderForFormat(&buf, plist.BinaryFormat)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("rtsp: encode plist body: %w", err)
	}
	return buf.Bytes(), nil
}

// SetupRequest is the decoded body of a SETUP request: the sender's
// ephemeral control/timing ports and the stream descriptors it wants to
// open.
type SetupRequest struct {
	Streams           []StreamRequest `plist:"streams,omitempty"`
	Timing            string          `plist:"timingProtocol,omitempty"`
	EventPort         int64           `plist:"eventPort,omitempty"`
	DeviceID          string          `plist:"deviceID,omitempty"`
}

// StreamRequest describes one requested stream within SETUP.
type StreamRequest struct {
	Type           int64 `plist:"type"`
	ControlPort    int64 `plist:"controlPort,omitempty"`
	SPS            []byte `plist:"sps,omitempty"`
	AudioFormat    int64 `plist:"audioFormat,omitempty"`
}

// SetupReply is the plist body answering SETUP: the accessory's own
// listening ports for the streams it opened.
type SetupReply struct {
	EventPort int64           `plist:"eventPort,omitempty"`
	Streams   []StreamReply   `plist:"streams,omitempty"`
}

// StreamReply describes one opened stream within a SETUP reply.
type StreamReply struct {
	Type        int64 `plist:"type"`
	DataPort    int64 `plist:"dataPort,omitempty"`
	ControlPort int64 `plist:"controlPort,omitempty"`
}

// InfoReply is the plist body for GET /info: the accessory's identity and
// the feature/PTP capability bits senders use to decide how to negotiate.
type InfoReply struct {
	DeviceID     string `plist:"deviceID"`
	Features     uint64 `plist:"features"`
	Model        string `plist:"model"`
	Name         string `plist:"name"`
	PTPInfo      string `plist:"ptpInfo,omitempty"`
	SourceVers   string `plist:"sourceVersion,omitempty"`
}
