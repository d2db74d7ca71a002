package frame

import (
	"encoding/binary"
	"testing"
)

func buildAUPayload(au []byte) []byte {
	header := make([]byte, 2)
	binary.BigEndian.PutUint16(header, 16) // one 16-bit AU header => 16 bits
	auHeader := make([]byte, 2)
	binary.BigEndian.PutUint16(auHeader, uint16(len(au))<<3)
	out := append(header, auHeader...)
	return append(out, au...)
}

func TestExtractAccessUnitParsesSingleAU(t *testing.T) {
	want := []byte("synthetic aac access unit")
	payload := buildAUPayload(want)

	got, err := ExtractAccessUnit(payload)
	if err != nil {
		t.Fatalf("ExtractAccessUnit: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("ExtractAccessUnit = %q, want %q", got, want)
	}
}

func TestExtractAccessUnitRejectsTruncatedPayload(t *testing.T) {
	if _, err := ExtractAccessUnit([]byte{0x00}); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestExtractAccessUnitRejectsOversizedAU(t *testing.T) {
	header := make([]byte, 2)
	binary.BigEndian.PutUint16(header, 16)
	auHeader := make([]byte, 2)
	binary.BigEndian.PutUint16(auHeader, 900<<3)
	payload := append(header, auHeader...)
	payload = append(payload, []byte("short")...)

	if _, err := ExtractAccessUnit(payload); err == nil {
		t.Fatal("expected error for AU size exceeding payload")
	}
}
