package rtsp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Decoder incrementally parses Messages out of a byte stream that may
// arrive in arbitrarily small or large reads off the event TCP
// connection. Feed appends newly-read bytes; Next reports the next
// complete message, or ok=false with the number of additional bytes the
// caller should read before calling Next again.
type Decoder struct {
	buf []byte
}

// Feed appends data read off the connection to the decode buffer.
func (d *Decoder) Feed(data []byte) {
	d.buf = append(d.buf, data...)
}

// Next attempts to decode one message from the buffered bytes. ok is
// false when more data is needed; needMore is a hint (not a hard
// requirement) of how many more bytes would let the next call succeed —
// it is 1 when the header terminator hasn't arrived yet, since the exact
// shortfall is unknown until it does.
func (d *Decoder) Next() (msg *Message, ok bool, needMore int, err error) {
	headerEnd := bytes.Index(d.buf, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return nil, false, 1, nil
	}

	head := d.buf[:headerEnd]
	m, err := parseHead(head)
	if err != nil {
		return nil, false, 0, err
	}

	bodyStart := headerEnd + 4
	contentLength := 0
	if v := m.Header.Get("Content-Length"); v != "" {
		n, cerr := strconv.Atoi(strings.TrimSpace(v))
		if cerr != nil {
			return nil, false, 0, fmt.Errorf("rtsp: invalid Content-Length %q", v)
		}
		contentLength = n
	}

	total := bodyStart + contentLength
	if len(d.buf) < total {
		return nil, false, total - len(d.buf), nil
	}

	m.Body = append([]byte{}, d.buf[bodyStart:total]...)
	d.buf = d.buf[total:]
	return m, true, 0, nil
}

// parseHead parses the request/status line and headers out of the bytes
// preceding the blank-line terminator.
func parseHead(head []byte) (*Message, error) {
	lines := strings.Split(string(head), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, fmt.Errorf("rtsp: empty message head")
	}

	m := &Message{}
	first := strings.Fields(lines[0])
	switch {
	case len(first) == 3 && (strings.HasPrefix(first[2], "RTSP/") || strings.HasPrefix(first[2], "HTTP/")):
		m.Method = first[0]
		m.Path = first[1]
		m.Proto = first[2]
	case len(first) >= 2 && (strings.HasPrefix(first[0], "RTSP/") || strings.HasPrefix(first[0], "HTTP/")):
		m.Proto = first[0]
		code, err := strconv.Atoi(first[1])
		if err != nil {
			return nil, fmt.Errorf("rtsp: invalid status code %q", first[1])
		}
		m.StatusCode = code
		if len(first) > 2 {
			m.StatusText = strings.Join(first[2:], " ")
		}
	default:
		return nil, fmt.Errorf("rtsp: unrecognized start line %q", lines[0])
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, fmt.Errorf("rtsp: malformed header line %q", line)
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		m.Header.Add(name, value)
	}

	return m, nil
}

// NewReply builds a reply message that mirrors the request's CSeq, per
// AirPlay's framing requirement that every reply echo the request it
// answers.
func NewReply(req *Message, statusCode int, statusText string) *Message {
	reply := &Message{Proto: "RTSP/1.0", StatusCode: statusCode, StatusText: statusText}
	if cseq := req.Header.Get("CSeq"); cseq != "" {
		reply.Header.Set("CSeq", cseq)
	}
	reply.Header.Set("Server", "AirTunes/pierre")
	return reply
}

// Encode serializes a Message as bytes ready to write to the connection,
// computing and overwriting Content-Length from the actual body.
func Encode(m *Message) []byte {
	var buf bytes.Buffer

	if m.IsRequest() {
		fmt.Fprintf(&buf, "%s %s %s\r\n", m.Method, m.Path, protoOrDefault(m.Proto))
	} else {
		fmt.Fprintf(&buf, "%s %d %s\r\n", protoOrDefault(m.Proto), m.StatusCode, m.StatusText)
	}

	m.Header.Range(func(name, value string) {
		if strings.EqualFold(name, "Content-Length") {
			return // rewritten below from the real body length
		}
		fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
	})
	fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(m.Body))

	buf.WriteString("\r\n")
	buf.Write(m.Body)
	return buf.Bytes()
}

func protoOrDefault(p string) string {
	if p == "" {
		return "RTSP/1.0"
	}
	return p
}
