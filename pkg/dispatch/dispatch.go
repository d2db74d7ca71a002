// Package dispatch implements C7: a (method, path-prefix) routing table
// over pkg/rtsp's request/reply codec, the server-side counterpart of
// the method/path switch the pack's SIP dialog layer uses to route
// incoming requests to handlers.
package dispatch

import (
	"fmt"
	"strings"

	"github.com/pierre-project/pierre/pkg/cipher"
	"github.com/pierre-project/pierre/pkg/rtsp"
)

// Session is the per-connection state a handler may read or mutate. It
// is intentionally a thin bag of fields rather than an interface since
// every handler needs the whole thing and there is exactly one
// implementation (the supervisor's live session).
type Session struct {
	PairSetup  PairSetupStepper
	PairVerify *cipher.PairVerify

	Accessory AccessoryInfo

	// SetupStream is called once SETUP's plist body has been parsed, and
	// returns the ports the accessory opened for the sender to connect to.
	SetupStream func(req rtsp.SetupRequest) (rtsp.SetupReply, error)

	// SetParameter receives a parsed text/parameters body. It is called
	// only for Content-Type text/parameters; other bodies are not passed on.
	SetParameter func(params map[string]string) error

	// Flush receives a FlushRequest built from FLUSH_BUFFERED's headers.
	Flush func(untilSeq, untilTS uint32)

	// Record is invoked on RECORD, enabling the playing state.
	Record func()

	// Teardown is invoked on TEARDOWN: stop the audio server, clear
	// Anchor, leave the playing state.
	Teardown func()

	Volume        float64
	ProgressMarks [3]uint32
}

// PairSetupStepper is the subset of cipher.PairSetup dispatch depends on.
type PairSetupStepper interface {
	Step(body []byte) ([]byte, error)
}

// AccessoryInfo is what GET /info serializes.
type AccessoryInfo struct {
	DeviceID string
	Features uint64
	Model    string
	Name     string
}

// Handler processes one request against a Session and returns the reply
// to send.
type Handler func(sess *Session, req *rtsp.Message) (*rtsp.Message, error)

// Table is a (method, path) routing table. Path matching is exact for
// RTSP methods (SETUP, RECORD, ...) and prefix-based for HTTP-style paths
// (POST /pair-setup, GET /info) since AirPlay2 sometimes appends a query
// string.
type Table struct {
	routes map[string]Handler
}

// NewTable builds the routing table wiring every endpoint spec.md §4.7
// names.
func NewTable() *Table {
	t := &Table{routes: make(map[string]Handler)}
	t.routes[key("POST", "/pair-setup")] = handlePairSetup
	t.routes[key("POST", "/pair-verify")] = handlePairVerify
	t.routes[key("POST", "/fp-setup")] = handleFairPlaySetup
	t.routes[key("GET", "/info")] = handleInfo
	t.routes[key("SETUP", "")] = handleSetup
	t.routes[key("SET_PARAMETER", "")] = handleSetParameter
	t.routes[key("RECORD", "")] = handleRecord
	t.routes[key("FLUSH_BUFFERED", "")] = handleFlush
	t.routes[key("TEARDOWN", "")] = handleTeardown
	return t
}

func key(method, path string) string { return method + " " + path }

// Dispatch routes req to its handler, replying 501 for an unrecognized
// (method, path) pair and 400 if the handler reports a parse failure.
func (t *Table) Dispatch(sess *Session, req *rtsp.Message) *rtsp.Message {
	routeKey := key(req.Method, routePath(req))
	h, ok := t.routes[routeKey]
	if !ok && routePath(req) != "" {
		for k, rh := range t.routes {
			if strings.HasPrefix(routeKey, k) {
				h, ok = rh, true
				break
			}
		}
	}
	if !ok {
		return rtsp.NewReply(req, 501, "Not Implemented")
	}

	reply, err := h(sess, req)
	if err != nil {
		bad := rtsp.NewReply(req, 400, "Bad Request")
		bad.Body = []byte(fmt.Sprintf("%v", err))
		return bad
	}
	return reply
}

// routePath returns the path for HTTP-style methods and "" for RTSP
// methods that don't use one, so SETUP/RECORD/etc route on method alone.
func routePath(req *rtsp.Message) string {
	switch req.Method {
	case "POST", "GET":
		return req.Path
	default:
		return ""
	}
}
