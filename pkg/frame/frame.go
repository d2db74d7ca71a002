package frame

import (
	"time"

	"github.com/looplab/fsm"
)

// Frame tracks one RTP packet's progress from raw bytes through
// decipher, decode, DSP analysis, and render. Mutating methods drive the
// state machine; callers must check the returned error since an
// out-of-order call (e.g. Decode before Decipher) is a programming bug,
// not a runtime condition to recover from silently.
type Frame struct {
	machine *fsm.FSM

	Header  Header
	RawLen  int
	Planes  [][]float32 // per-channel PCM once DECODED
	Peaks   []Peak      // per-channel peak once DSP_COMPLETE
	DueAt   time.Time   // local render time, set once an Anchor fuses it

	Err error // the failure that drove a *_FAIL/OUTDATED/NO_CLK_ANC transition, if any
}

// New starts a Frame in NONE, ready for ParseHeader.
func New() *Frame {
	return &Frame{machine: newMachine()}
}

// State returns the frame's current lifecycle state.
func (f *Frame) State() string { return f.machine.Current() }

// ParseHeader parses the RTP header from raw and advances to
// HEADER_PARSED.
func (f *Frame) ParseHeader(raw []byte) error {
	h, err := ParseHeader(raw)
	if err != nil {
		return err
	}
	if err := fire(f.machine, evParseHeader); err != nil {
		return err
	}
	f.Header = h
	f.RawLen = len(raw)
	return nil
}

// Decipher opens the AEAD-sealed payload, advancing to DECIPHERED on
// success or DECIPHER_FAIL on a MAC mismatch.
func (f *Frame) Decipher(cipher *AudioCipher, raw []byte, nonce8 [8]byte) ([]byte, error) {
	plain, err := cipher.Decrypt(nonce8, f.Header.AAD(raw), raw[rtpHeaderSize:])
	if err != nil {
		f.Err = err
		_ = fire(f.machine, evDecipherFail)
		return nil, err
	}
	if ferr := fire(f.machine, evDecipher); ferr != nil {
		return nil, ferr
	}
	return plain, nil
}

// Decode runs the AAC decoder over the deciphered access unit, advancing
// to DECODED on success or DECODE_FAIL on a decoder error.
func (f *Frame) Decode(dec interface {
	DecodeFrame(accessUnit []byte, samplesPerFrame int) ([][]float32, error)
}, accessUnit []byte, samplesPerFrame int) error {
	planes, err := dec.DecodeFrame(accessUnit, samplesPerFrame)
	if err != nil {
		f.Err = err
		_ = fire(f.machine, evDecodeFail)
		return err
	}
	if ferr := fire(f.machine, evDecode); ferr != nil {
		return ferr
	}
	f.Planes = planes
	return nil
}

// BeginDSP advances DECODED -> DSP_IN_PROGRESS, marking this frame as
// claimed by a worker.
func (f *Frame) BeginDSP() error { return fire(f.machine, evDSPStart) }

// RunDSP submits this frame's decoded planes to pool and blocks until the
// worker reports back, then drives DSP_IN_PROGRESS -> DSP_COMPLETE. It is
// the glue between the Frame state machine and the bounded worker pool:
// the pool never touches Frame state directly, since that state belongs
// to whichever goroutine owns this Frame's lifecycle.
func (f *Frame) RunDSP(pool *Pool, sampleRate uint32, w Window) error {
	if err := f.BeginDSP(); err != nil {
		return err
	}
	result := make(chan []Peak, 1)
	pool.Submit(Job{
		Planes:     f.Planes,
		SampleRate: sampleRate,
		Window:     w,
		Done:       func(peaks []Peak) { result <- peaks },
	})
	return f.CompleteDSP(<-result)
}

// CompleteDSP records one peak per channel and advances to DSP_COMPLETE.
func (f *Frame) CompleteDSP(peaks []Peak) error {
	if err := fire(f.machine, evDSPComplete); err != nil {
		return err
	}
	f.Peaks = peaks
	return nil
}

// MarkReady advances DSP_COMPLETE -> READY once an Anchor has assigned
// DueAt.
func (f *Frame) MarkReady(dueAt time.Time) error {
	if err := fire(f.machine, evMarkReady); err != nil {
		return err
	}
	f.DueAt = dueAt
	return nil
}

// Render advances READY -> RENDERED.
func (f *Frame) Render() error { return fire(f.machine, evRender) }

// Outdate drops the frame into OUTDATED, e.g. when Racked finds its render
// deadline already passed by more than the tolerance.
func (f *Frame) Outdate() error { return fire(f.machine, evOutdate) }

// NoClockAnchor drops the frame because no valid Anchor was available to
// compute DueAt.
func (f *Frame) NoClockAnchor() error { return fire(f.machine, evNoClockAnchor) }

// Flush drops the frame because it fell inside a FlushRequest window.
func (f *Frame) Flush() error { return fire(f.machine, evFlush) }

// Terminal reports whether the frame has reached any state past which it
// will never progress further (RENDERED or one of the drop states).
func (f *Frame) Terminal() bool {
	switch f.State() {
	case StateRendered, StateDecipherFail, StateDecodeFail, StateOutdated, StateNoClockAnchor, StateFlushed:
		return true
	default:
		return false
	}
}
