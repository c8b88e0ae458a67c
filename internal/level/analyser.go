// Package level computes a live loudness level from a capture stream.
package level

import (
	"encoding/binary"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	minDecibels = -100.0
	maxDecibels = -30.0
)

// Analyser mirrors the byte frequency data of a browser analyser node: a Blackman
// window over the latest fftSize samples, magnitudes normalized by the FFT size,
// exponential smoothing between frames and a dB range mapped onto 0..255.
// It is not safe for concurrent use.
type Analyser struct {
	fftSize   int
	smoothing float64
	channels  int

	fft      *fourier.FFT
	ring     []float64
	pos      int
	work     []float64
	coeffs   []complex128
	smoothed []float64
	bytes    []uint8
}

// NewAnalyser creates an analyser for interleaved s16le PCM with the given channel count.
func NewAnalyser(fftSize int, smoothing float64, channels int) *Analyser {
	if channels <= 0 {
		channels = 1
	}
	return &Analyser{
		fftSize:   fftSize,
		smoothing: smoothing,
		channels:  channels,
		fft:       fourier.NewFFT(fftSize),
		ring:      make([]float64, fftSize),
		work:      make([]float64, fftSize),
		coeffs:    make([]complex128, fftSize/2+1),
		smoothed:  make([]float64, fftSize/2),
		bytes:     make([]uint8, fftSize/2),
	}
}

// FrequencyBinCount is half the FFT size.
func (a *Analyser) FrequencyBinCount() int { return a.fftSize / 2 }

// Write appends PCM to the time-domain ring, down-mixing frames to mono.
func (a *Analyser) Write(pcm []byte) {
	frameBytes := 2 * a.channels
	for off := 0; off+frameBytes <= len(pcm); off += frameBytes {
		var sum float64
		for ch := 0; ch < a.channels; ch++ {
			s := int16(binary.LittleEndian.Uint16(pcm[off+2*ch:]))
			sum += float64(s) / 32768.0
		}
		a.ring[a.pos] = sum / float64(a.channels)
		a.pos = (a.pos + 1) % a.fftSize
	}
}

// ByteFrequencyData computes one analysis frame and returns the byte spectrum.
// The returned slice is reused by the next call.
func (a *Analyser) ByteFrequencyData() []uint8 {
	// Oldest sample first
	n := copy(a.work, a.ring[a.pos:])
	copy(a.work[n:], a.ring[:a.pos])
	window.Blackman(a.work)

	a.coeffs = a.fft.Coefficients(a.coeffs, a.work)

	scale := 1.0 / float64(a.fftSize)
	rangeScale := 255.0 / (maxDecibels - minDecibels)
	for k := range a.smoothed {
		magnitude := cmplxAbs(a.coeffs[k]) * scale
		v := a.smoothing*a.smoothed[k] + (1-a.smoothing)*magnitude
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		a.smoothed[k] = v

		db := minDecibels
		if v > 0 {
			db = 20 * math.Log10(v)
		}
		scaled := rangeScale * (db - minDecibels)
		switch {
		case scaled < 0:
			a.bytes[k] = 0
		case scaled > 255:
			a.bytes[k] = 255
		default:
			a.bytes[k] = uint8(scaled)
		}
	}
	return a.bytes
}

// Level returns the average byte frequency value scaled to 0..100.
func (a *Analyser) Level() int {
	data := a.ByteFrequencyData()
	if len(data) == 0 {
		return 0
	}
	var sum int
	for _, v := range data {
		sum += int(v)
	}
	avg := float64(sum) / float64(len(data))
	return int(math.Round(avg / 255 * 100))
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
