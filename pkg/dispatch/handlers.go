package dispatch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pierre-project/pierre/pkg/cipher"
	"github.com/pierre-project/pierre/pkg/rtsp"
)

func handlePairSetup(sess *Session, req *rtsp.Message) (*rtsp.Message, error) {
	reply, err := sess.PairSetup.Step(req.Body)
	if err != nil {
		return nil, err
	}
	resp := rtsp.NewReply(req, 200, "OK")
	resp.Header.Set("Content-Type", "application/octet-stream")
	resp.Body = reply
	return resp, nil
}

func handlePairVerify(sess *Session, req *rtsp.Message) (*rtsp.Message, error) {
	if sess.PairVerify == nil {
		return nil, fmt.Errorf("dispatch: pair-verify not initialized")
	}
	reply, _, err := sess.PairVerify.Step(req.Body)
	if err != nil {
		return nil, err
	}
	resp := rtsp.NewReply(req, 200, "OK")
	resp.Header.Set("Content-Type", "application/octet-stream")
	resp.Body = reply
	return resp, nil
}

func handleFairPlaySetup(sess *Session, req *rtsp.Message) (*rtsp.Message, error) {
	reply, ok := cipher.FairPlaySetup(req.Body)
	if !ok {
		return nil, fmt.Errorf("dispatch: unrecognized fp-setup request length %d", len(req.Body))
	}
	resp := rtsp.NewReply(req, 200, "OK")
	resp.Header.Set("Content-Type", "application/octet-stream")
	resp.Body = reply
	return resp, nil
}

func handleInfo(sess *Session, req *rtsp.Message) (*rtsp.Message, error) {
	body, err := rtsp.EncodePlist(rtsp.InfoReply{
		DeviceID:   sess.Accessory.DeviceID,
		Features:   sess.Accessory.Features,
		Model:      sess.Accessory.Model,
		Name:       sess.Accessory.Name,
		PTPInfo:    "PTPv2",
		SourceVers: "1.0",
	})
	if err != nil {
		return nil, err
	}
	resp := rtsp.NewReply(req, 200, "OK")
	resp.Header.Set("Content-Type", "application/x-apple-binary-plist")
	resp.Body = body
	return resp, nil
}

func handleSetup(sess *Session, req *rtsp.Message) (*rtsp.Message, error) {
	var setupReq rtsp.SetupRequest
	if err := rtsp.DecodePlist(req.Body, &setupReq); err != nil {
		return nil, err
	}
	if sess.SetupStream == nil {
		return nil, fmt.Errorf("dispatch: no stream handler wired")
	}
	setupReply, err := sess.SetupStream(setupReq)
	if err != nil {
		return nil, err
	}
	body, err := rtsp.EncodePlist(setupReply)
	if err != nil {
		return nil, err
	}
	resp := rtsp.NewReply(req, 200, "OK")
	resp.Header.Set("Content-Type", "application/x-apple-binary-plist")
	resp.Body = body
	return resp, nil
}

func handleSetParameter(sess *Session, req *rtsp.Message) (*rtsp.Message, error) {
	contentType := req.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/parameters") {
		params := parseTextParameters(string(req.Body))
		if v, ok := params["volume"]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				sess.Volume = f
			}
		}
		if v, ok := params["progress"]; ok {
			parseProgressMarks(v, &sess.ProgressMarks)
		}
		if sess.SetParameter != nil {
			if err := sess.SetParameter(params); err != nil {
				return nil, err
			}
		}
	}
	return rtsp.NewReply(req, 200, "OK"), nil
}

func handleRecord(sess *Session, req *rtsp.Message) (*rtsp.Message, error) {
	if sess.Record != nil {
		sess.Record()
	}
	return rtsp.NewReply(req, 200, "OK"), nil
}

func handleFlush(sess *Session, req *rtsp.Message) (*rtsp.Message, error) {
	untilSeq, untilTS, err := parseFlushRange(req.Header.Get("RTP-Info"))
	if err != nil {
		return nil, err
	}
	if sess.Flush != nil {
		sess.Flush(untilSeq, untilTS)
	}
	return rtsp.NewReply(req, 200, "OK"), nil
}

func handleTeardown(sess *Session, req *rtsp.Message) (*rtsp.Message, error) {
	if sess.Teardown != nil {
		sess.Teardown()
	}
	return rtsp.NewReply(req, 200, "OK"), nil
}

// parseTextParameters parses a "key: value\r\n"-per-line text/parameters
// body, the format AirPlay uses for SET_PARAMETER instead of a plist.
func parseTextParameters(body string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(body, "\r\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		out[strings.ToLower(key)] = val
	}
	return out
}

// parseProgressMarks parses "start/current/end" progress values into the
// 3-slot array spec.md §5's supplemented feature list describes.
func parseProgressMarks(v string, marks *[3]uint32) {
	parts := strings.Split(v, "/")
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.ParseUint(strings.TrimSpace(parts[i]), 10, 32)
		if err == nil {
			marks[i] = uint32(n)
		}
	}
}

// parseFlushRange parses the "RTP-Info: seq=<n>;rtptime=<n>" header
// FLUSH_BUFFERED carries into a FlushRequest's half-open window.
func parseFlushRange(rtpInfo string) (untilSeq, untilTS uint32, err error) {
	for _, field := range strings.Split(rtpInfo, ";") {
		field = strings.TrimSpace(field)
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		val, perr := strconv.ParseUint(strings.TrimSpace(kv[1]), 10, 32)
		if perr != nil {
			return 0, 0, fmt.Errorf("dispatch: invalid RTP-Info field %q", field)
		}
		switch strings.TrimSpace(kv[0]) {
		case "seq":
			untilSeq = uint32(val)
		case "rtptime":
			untilTS = uint32(val)
		}
	}
	return untilSeq, untilTS, nil
}
