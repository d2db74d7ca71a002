// Package rtsp implements C2: the request/reply codec for the RTSP-like
// protocol AirPlay2 speaks over its event connection — CRLF headers,
// Content-Length-bounded bodies, and the occasional Apple binary plist
// body — plus the plist helpers SETUP/RECORD/SET_PARAMETER/GET-info need.
// The framing style (bufio-backed incremental reads, a header map, a
// CSeq-mirroring reply builder) follows the teacher's RTSP client; this
// package runs the same protocol from the server side.
package rtsp

import "strings"

// Message is either a request (Method/Path set, StatusCode zero) or a
// reply (StatusCode set, Method/Path empty) — the two share one struct
// since encode/decode logic is symmetric and callers rarely need to
// distinguish the type beyond checking StatusCode.
type Message struct {
	Method     string
	Path       string
	Proto      string // "RTSP/1.0" or "HTTP/1.1"
	StatusCode int
	StatusText string
	Header     Header
	Body       []byte
}

// IsRequest reports whether this message is a request line, not a status
// line.
func (m *Message) IsRequest() bool { return m.Method != "" }

// Header is an ordered, case-preserving multimap: AirPlay senders are
// inconsistent about header capitalization ("Content-Length" vs
// "content-length"), so lookups fold case, but the original spelling
// a peer sent is kept for any header we echo back unmodified.
type Header struct {
	keys []string
	vals []string
}

// Get returns the first value for name, matched case-insensitively.
func (h *Header) Get(name string) string {
	for i, k := range h.keys {
		if strings.EqualFold(k, name) {
			return h.vals[i]
		}
	}
	return ""
}

// Set replaces (or appends) the value for name, matched
// case-insensitively, keeping name's given case if it's a new entry.
func (h *Header) Set(name, value string) {
	for i, k := range h.keys {
		if strings.EqualFold(k, name) {
			h.vals[i] = value
			return
		}
	}
	h.keys = append(h.keys, name)
	h.vals = append(h.vals, value)
}

// Add appends a header entry without replacing an existing one with the
// same name (a handful of AirPlay headers, like Transport's retransmit
// parameters, repeat).
func (h *Header) Add(name, value string) {
	h.keys = append(h.keys, name)
	h.vals = append(h.vals, value)
}

// Range calls fn for every header entry in arrival/insertion order.
func (h *Header) Range(fn func(name, value string)) {
	for i, k := range h.keys {
		fn(k, h.vals[i])
	}
}

// Len reports the number of header entries.
func (h *Header) Len() int { return len(h.keys) }
