package render

import (
	"bytes"
	"crypto/rand"
	"testing"
	"time"

	"github.com/pierre-project/pierre/pkg/anchor"
	"github.com/pierre-project/pierre/pkg/frame"
	"github.com/pierre-project/pierre/pkg/racked"
	"github.com/pierre-project/pierre/pkg/stats"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/chacha20poly1305"
)

type fakeAACDecoder struct{ planes [][]float32 }

func (d fakeAACDecoder) DecodeFrame(accessUnit []byte, samplesPerFrame int) ([][]float32, error) {
	return d.planes, nil
}

type fakeClock struct {
	snap anchor.Snapshot
}

func (c fakeClock) Read() (anchor.Snapshot, error) { return c.snap, nil }

func newStableAnchor(t *testing.T) *anchor.Anchor {
	t.Helper()
	clock := fakeClock{snap: anchor.Snapshot{
		EpochNanos:        2_000_000_000_000,
		MasterUptimeNanos: 0,
		Stable:            true,
	}}
	a := anchor.NewAnchor(clock, 44100, 0, time.Hour)
	now := time.Unix(0, 2_000_000_000_000)
	if err := a.Update(anchor.AnchorSample{
		RTPTimestamp: 2_000_000,
		NetworkNanos: 0,
		ReceivedAt:   now,
	}, now); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return a
}

// newDSPCompleteFrame drives a Frame through the real C4 pipeline
// (header, decipher, decode, DSP) up to DSP_COMPLETE, the state
// render.Loop expects before calling MarkReady — the render package
// tests the scheduling logic, not C4's internals, so the payload is a
// synthetic silent PCM frame.
func newDSPCompleteFrame(t *testing.T, seq, ts uint32) *frame.Frame {
	t.Helper()

	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	cipher, err := frame.NewAudioCipher(key)
	if err != nil {
		t.Fatalf("NewAudioCipher: %v", err)
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		t.Fatalf("chacha20poly1305.New: %v", err)
	}

	raw := make([]byte, 12)
	raw[0] = 0x80
	raw[2] = byte(seq >> 8)
	raw[3] = byte(seq)
	raw[4] = byte(ts >> 24)
	raw[5] = byte(ts >> 16)
	raw[6] = byte(ts >> 8)
	raw[7] = byte(ts)

	f := frame.New()
	if err := f.ParseHeader(raw); err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}

	var nonce8 [8]byte
	copy(nonce8[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	var nonce12 [12]byte
	copy(nonce12[4:], nonce8[:])
	sealed := aead.Seal(nil, nonce12[:], []byte("access unit"), f.Header.AAD(raw))
	raw = append(raw, sealed...)

	if _, err := f.Decipher(cipher, raw, nonce8); err != nil {
		t.Fatalf("Decipher: %v", err)
	}

	planes := [][]float32{make([]float32, 1024), make([]float32, 1024)}
	if err := f.Decode(fakeAACDecoder{planes: planes}, []byte("access unit"), 1024); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	pool := frame.NewPool(1, 1)
	defer pool.Close()
	if err := f.RunDSP(pool, 44100, frame.WindowHann); err != nil {
		t.Fatalf("RunDSP: %v", err)
	}
	return f
}

// TestRenderLoopEmitsExactlyOneMessageForSingleDueFrame is the S2
// scenario: one synthetic packet seq=1000 ts=2_000_000 becomes exactly
// one DmxDataMsg with matching seq_num/timestamp, and the frame ends up
// RENDERED.
func TestRenderLoopEmitsExactlyOneMessageForSingleDueFrame(t *testing.T) {
	a := newStableAnchor(t)
	rq := racked.New(5 * time.Millisecond)

	f := newDSPCompleteFrame(t, 1000, 2_000_000)
	rq.Insert(racked.Entry{Seq: 1000, TS: 2_000_000, Frame: f})

	var out bytes.Buffer
	loop := NewLoop(rq, a, &out, time.Duration(1024)*time.Second/44100, stats.NoopSink{})

	now := time.Unix(0, 2_000_000_000_000)
	if err := loop.Tick(now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if out.Len() == 0 {
		t.Fatal("expected exactly one message written")
	}
	msg, rest := decodeOneMessage(t, out.Bytes())
	if len(rest) != 0 {
		t.Fatalf("expected exactly one message, got %d trailing bytes", len(rest))
	}
	if msg.SeqNum != 1000 {
		t.Fatalf("seq_num = %d, want 1000", msg.SeqNum)
	}
	if msg.Timestamp != 2_000_000 {
		t.Fatalf("timestamp = %d, want 2000000", msg.Timestamp)
	}
	if f.State() != frame.StateRendered {
		t.Fatalf("frame state = %s, want %s", f.State(), frame.StateRendered)
	}
}

// TestRenderLoopEmitsSilenceWhenAnchorInvalid is the S4 scenario's render
// side: while Anchor::current() is invalid, every tick emits a silent
// frame instead of blocking or crashing.
func TestRenderLoopEmitsSilenceWhenAnchorInvalid(t *testing.T) {
	clock := fakeClock{snap: anchor.Snapshot{Stable: false}}
	a := anchor.NewAnchor(clock, 44100, 5*time.Second, 10*time.Second)
	rq := racked.New(5 * time.Millisecond)

	var out bytes.Buffer
	loop := NewLoop(rq, a, &out, time.Duration(1024)*time.Second/44100, stats.NoopSink{})

	if err := loop.Tick(time.Now()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	msg, _ := decodeOneMessage(t, out.Bytes())
	if !msg.Silence {
		t.Fatal("expected a silent frame when the anchor is invalid")
	}
	if msg.SeqNum != 0 || msg.Timestamp != 0 {
		t.Fatalf("silent frame should carry seq=0 ts=0, got seq=%d ts=%d", msg.SeqNum, msg.Timestamp)
	}
	for _, b := range msg.DFrame {
		if b != 0 {
			t.Fatal("silent frame dframe should be all zero bytes")
		}
	}
}

func TestRenderLoopNowUSNeverDecreases(t *testing.T) {
	// Silence emits on every tick regardless of Racked's contents, making
	// it the simplest path to exercise two consecutive writes.
	clock := fakeClock{snap: anchor.Snapshot{Stable: false}}
	a := anchor.NewAnchor(clock, 44100, 5*time.Second, 10*time.Second)
	rq := racked.New(5 * time.Millisecond)
	var out bytes.Buffer
	loop := NewLoop(rq, a, &out, time.Millisecond, stats.NoopSink{})

	t1 := time.Unix(0, 2_000_000_000_000)
	if err := loop.Tick(t1); err != nil {
		t.Fatalf("Tick 1: %v", err)
	}
	msg1, _ := decodeOneMessage(t, out.Bytes())

	out.Reset()
	// Simulate a slightly-earlier wall clock reading on the next tick.
	t2 := t1.Add(-time.Millisecond)
	if err := loop.Tick(t2); err != nil {
		t.Fatalf("Tick 2: %v", err)
	}
	msg2, _ := decodeOneMessage(t, out.Bytes())

	if msg2.NowUS < msg1.NowUS {
		t.Fatalf("now_us went backward: %d -> %d", msg1.NowUS, msg2.NowUS)
	}
}

func decodeOneMessage(t *testing.T, buf []byte) (DmxDataMsg, []byte) {
	t.Helper()
	if len(buf) < 2 {
		t.Fatal("buffer too short for a length-prefixed message")
	}
	bodyLen := int(buf[0])<<8 | int(buf[1])
	total := 2 + bodyLen
	if len(buf) < total {
		t.Fatal("buffer shorter than declared body length")
	}
	body := buf[2:total]
	body = body[:len(body)-2] // trailing magic
	var msg DmxDataMsg
	if err := msgpack.Unmarshal(body, &msg); err != nil {
		t.Fatalf("msgpack.Unmarshal: %v", err)
	}
	return msg, buf[total:]
}
