package frame

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Window applies one of the two supported analysis windows to a
// samplesPerFrame-length real signal in place.
type Window int

const (
	WindowHann Window = iota
	WindowBlackmanHarris
)

func applyWindow(samples []float32, w Window) {
	n := len(samples)
	if n < 2 {
		return
	}
	switch w {
	case WindowBlackmanHarris:
		const a0, a1, a2, a3 = 0.35875, 0.48829, 0.14128, 0.01168
		for i := range samples {
			x := 2 * math.Pi * float64(i) / float64(n-1)
			coeff := a0 - a1*math.Cos(x) + a2*math.Cos(2*x) - a3*math.Cos(3*x)
			samples[i] = float32(float64(samples[i]) * coeff)
		}
	default:
		for i := range samples {
			coeff := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
			samples[i] = float32(float64(samples[i]) * coeff)
		}
	}
}

// Peak is one detected spectral peak: its interpolated frequency in Hz
// and the normalized FFT magnitude of the peak bin itself. Only the
// frequency is interpolated; the magnitude is not.
type Peak struct {
	FrequencyHz float64
	Magnitude   float64
}

const (
	peakMinHz        = 40.0
	peakMaxHz        = 11500.0
	peakMinMagnitude = 0.9
	peakMaxMagnitude = 128.0
)

// AnalyzeChannel windows, FFTs, and peak-picks one channel's plane of
// samplesPerFrame float32 samples at the given sample rate, returning the
// single strongest peak within the accepted frequency/magnitude bounds,
// or ok=false if nothing in the spectrum qualifies.
func AnalyzeChannel(samples []float32, sampleRate uint32, w Window) (Peak, bool) {
	n := len(samples)
	windowed := make([]float32, n)
	copy(windowed, samples)
	applyWindow(windowed, w)

	real := make([]float64, n)
	for i, s := range windowed {
		real[i] = float64(s)
	}

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, real)

	binHz := float64(sampleRate) / float64(n)

	// gonum's FFT.Coefficients returns unnormalized sums over n samples;
	// scale back to per-sample amplitude so peakMinMagnitude/peakMaxMagnitude
	// mean something independent of frame size.
	norm := 1.0 / float64(n)

	var best Peak
	found := false
	for bin := 1; bin < len(coeffs)-1; bin++ {
		freq := float64(bin) * binHz
		if freq < peakMinHz || freq > peakMaxHz {
			continue
		}

		a := cmplxAbs(coeffs[bin-1]) * norm
		b := cmplxAbs(coeffs[bin]) * norm
		c := cmplxAbs(coeffs[bin+1]) * norm
		if !(b > a && b > c) {
			// not a local maximum, just a slope between neighboring bins
			continue
		}

		mag := b
		if mag < peakMinMagnitude || mag > peakMaxMagnitude {
			continue
		}

		// Parabolic interpolation around the bin for a sub-bin frequency
		// estimate.
		denom := a - 2*b + c
		var offset float64
		if denom != 0 {
			offset = 0.5 * (a - c) / denom
		}
		freq += offset * binHz

		if !found || mag > best.Magnitude {
			best = Peak{FrequencyHz: freq, Magnitude: mag}
			found = true
		}
	}
	return best, found
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
