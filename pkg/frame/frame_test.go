package frame

import (
	"testing"
	"time"
)

type fakeDecoder struct {
	planes [][]float32
	err    error
}

func (d *fakeDecoder) DecodeFrame(accessUnit []byte, samplesPerFrame int) ([][]float32, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.planes, nil
}

func TestFrameHappyPathReachesReadyAndRendered(t *testing.T) {
	c, key := newTestAudioCipher(t)
	_ = key

	raw := buildHeader(false, 96, 5, 1000, 0xfeedface)
	var nonce8 [8]byte
	copy(nonce8[:], []byte{1, 1, 1, 1, 1, 1, 1, 1})

	h, err := ParseHeader(raw)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	aad := h.AAD(raw)
	// Seal using the same cipher's key so Decipher can open it.
	sealed := sealForTest(t, c, nonce8, aad, []byte("access unit"))
	raw = append(raw, sealed...)

	f := New()
	if err := f.ParseHeader(raw); err != nil {
		t.Fatalf("ParseHeader (frame): %v", err)
	}
	if f.State() != StateHeaderParsed {
		t.Fatalf("state = %s, want %s", f.State(), StateHeaderParsed)
	}

	if _, err := f.Decipher(c, raw, nonce8); err != nil {
		t.Fatalf("Decipher: %v", err)
	}
	if f.State() != StateDeciphered {
		t.Fatalf("state = %s, want %s", f.State(), StateDeciphered)
	}

	dec := &fakeDecoder{planes: [][]float32{
		synthesizeTone(1000, 44100, 1024, 60),
		synthesizeTone(1000, 44100, 1024, 60),
	}}
	if err := f.Decode(dec, []byte("access unit"), 1024); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.State() != StateDecoded {
		t.Fatalf("state = %s, want %s", f.State(), StateDecoded)
	}

	pool := NewPool(1, 1)
	defer pool.Close()
	if err := f.RunDSP(pool, 44100, WindowHann); err != nil {
		t.Fatalf("RunDSP: %v", err)
	}
	if f.State() != StateDSPComplete {
		t.Fatalf("state = %s, want %s", f.State(), StateDSPComplete)
	}
	if len(f.Peaks) != 2 {
		t.Fatalf("len(Peaks) = %d, want 2", len(f.Peaks))
	}
	for ch, peak := range f.Peaks {
		if peak.FrequencyHz < 990 || peak.FrequencyHz > 1010 {
			t.Fatalf("channel %d peak = %.2fHz, want within 990-1010Hz", ch, peak.FrequencyHz)
		}
	}

	due := time.Now().Add(20 * time.Millisecond)
	if err := f.MarkReady(due); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	if f.State() != StateReady {
		t.Fatalf("state = %s, want %s", f.State(), StateReady)
	}
	if !f.DueAt.Equal(due) {
		t.Fatal("DueAt not recorded")
	}

	if err := f.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if f.State() != StateRendered {
		t.Fatalf("state = %s, want %s", f.State(), StateRendered)
	}
	if !f.Terminal() {
		t.Fatal("RENDERED should be terminal")
	}
}

func TestFrameOutdateFromAnyNonTerminalState(t *testing.T) {
	f := New()
	if err := f.Outdate(); err != nil {
		t.Fatalf("Outdate from NONE: %v", err)
	}
	if f.State() != StateOutdated {
		t.Fatalf("state = %s, want %s", f.State(), StateOutdated)
	}
	if !f.Terminal() {
		t.Fatal("OUTDATED should be terminal")
	}
}

func TestFrameDecodeFailOnDecoderError(t *testing.T) {
	c, _ := newTestAudioCipher(t)
	raw := buildHeader(false, 96, 5, 1000, 0xfeedface)
	var nonce8 [8]byte
	copy(nonce8[:], []byte{2, 2, 2, 2, 2, 2, 2, 2})
	h, _ := ParseHeader(raw)
	sealed := sealForTest(t, c, nonce8, h.AAD(raw), []byte("access unit"))
	raw = append(raw, sealed...)

	f := New()
	if err := f.ParseHeader(raw); err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if _, err := f.Decipher(c, raw, nonce8); err != nil {
		t.Fatalf("Decipher: %v", err)
	}

	dec := &fakeDecoder{err: errDecodeBoom}
	if err := f.Decode(dec, []byte("access unit"), 1024); err == nil {
		t.Fatal("expected Decode to fail")
	}
	if f.State() != StateDecodeFail {
		t.Fatalf("state = %s, want %s", f.State(), StateDecodeFail)
	}
}

func TestFrameCannotDecipherBeforeHeaderParsed(t *testing.T) {
	c, _ := newTestAudioCipher(t)
	f := New()
	raw := buildHeader(false, 96, 5, 1000, 0xfeedface)
	raw = append(raw, make([]byte, 16)...)
	var nonce8 [8]byte
	if _, err := f.Decipher(c, raw, nonce8); err == nil {
		t.Fatal("expected error deciphering before ParseHeader")
	}
}
