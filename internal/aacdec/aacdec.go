// Package aacdec binds libfdk-aac (the Fraunhofer FDK AAC decoder) to
// decode one AAC-ELD access unit per RTP packet into planar float32 PCM,
// the same way the pack's direwolf port wraps a native audio library
// behind a small cgo shim rather than reimplementing the codec in Go —
// there is no pure-Go AAC decoder in the ecosystem worth trusting for
// real-time playback.
package aacdec

/*
#cgo LDFLAGS: -lfdk-aac
#include <fdk-aac/aacdecoder_lib.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
)

// Decoder wraps one HANDLE_AACDECODER. It is not safe for concurrent use;
// the supervisor opens one Decoder per streaming session and drives it
// from that session's single ingest goroutine.
type Decoder struct {
	handle     C.HANDLE_AACDECODER
	channels   int
	sampleRate int
}

// NewDecoder opens an AAC-ELD decoder (AirPlay2's default audio codec)
// for the fixed 44.1kHz/2-channel stream every session negotiates.
func NewDecoder(sampleRate uint32, channels int) (*Decoder, error) {
	handle := C.aacDecoder_Open(C.TT_MP4_RAW, 1)
	if handle == nil {
		return nil, fmt.Errorf("aacdec: aacDecoder_Open failed")
	}
	return &Decoder{handle: handle, channels: channels, sampleRate: int(sampleRate)}, nil
}

// Close releases the native decoder instance.
func (d *Decoder) Close() {
	if d.handle != nil {
		C.aacDecoder_Close(d.handle)
		d.handle = nil
	}
}

// DecodeFrame decodes one AAC access unit into interleaved int16 PCM,
// then deinterleaves it into one float32 slice per channel normalized to
// [-1, 1] — the layout C4's DSP stage expects.
func (d *Decoder) DecodeFrame(accessUnit []byte, samplesPerFrame int) ([][]float32, error) {
	if len(accessUnit) == 0 {
		return nil, fmt.Errorf("aacdec: empty access unit")
	}

	buf := C.CBytes(accessUnit)
	defer C.free(buf)

	inBuf := (*C.UCHAR)(buf)
	inBufSize := C.UINT(len(accessUnit))
	bytesValid := inBufSize

	if rc := C.aacDecoder_Fill(d.handle, &inBuf, &inBufSize, &bytesValid); rc != 0 {
		return nil, fmt.Errorf("aacdec: aacDecoder_Fill failed: rc=%d", int(rc))
	}

	pcmSamples := samplesPerFrame * d.channels
	pcmOut := make([]C.INT_PCM, pcmSamples)

	rc := C.aacDecoder_DecodeFrame(d.handle, &pcmOut[0], C.INT(pcmSamples), 0)
	if rc != 0 {
		return nil, fmt.Errorf("aacdec: aacDecoder_DecodeFrame failed: rc=%d", int(rc))
	}

	planes := make([][]float32, d.channels)
	for ch := range planes {
		planes[ch] = make([]float32, samplesPerFrame)
	}
	const int16Scale = 1.0 / 32768.0
	for i := 0; i < samplesPerFrame; i++ {
		for ch := 0; ch < d.channels; ch++ {
			planes[ch][i] = float32(pcmOut[i*d.channels+ch]) * int16Scale
		}
	}
	return planes, nil
}
