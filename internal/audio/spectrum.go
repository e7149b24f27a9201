package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	defaultSmoothing = 0.8
	defaultMinDB     = -100.0
	defaultMaxDB     = -30.0
)

// Spectrum turns the most recent PCM window into byte-scaled frequency bins,
// the same way a browser analyser node does: Blackman window, smoothed
// magnitudes, decibels mapped from [minDB, maxDB] onto 0..255.
type Spectrum struct {
	mu sync.Mutex

	size      int
	fft       *fourier.FFT
	window    []float64
	samples   []float64 // ring of the last size samples
	next      int
	carry     []byte
	smoothed  []float64
	scratch   []float64
	coeffs    []complex128
	smoothing float64
	minDB     float64
	maxDB     float64
}

// NewSpectrum creates an analyser over windows of fftSize samples
func NewSpectrum(fftSize int) (*Spectrum, error) {
	if fftSize < 32 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("fft size must be a power of two >= 32, got %d", fftSize)
	}

	window := make([]float64, fftSize)
	for i := range window {
		x := 2 * math.Pi * float64(i) / float64(fftSize)
		window[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}

	return &Spectrum{
		size:      fftSize,
		fft:       fourier.NewFFT(fftSize),
		window:    window,
		samples:   make([]float64, fftSize),
		smoothed:  make([]float64, fftSize/2),
		scratch:   make([]float64, fftSize),
		smoothing: defaultSmoothing,
		minDB:     defaultMinDB,
		maxDB:     defaultMaxDB,
	}, nil
}

// BinCount returns the number of frequency bins produced per sample
func (s *Spectrum) BinCount() int {
	return s.size / 2
}

// Write feeds 16-bit little-endian mono PCM into the analysis window
func (s *Spectrum) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := p
	if len(s.carry) > 0 {
		data = append(s.carry, p...)
		s.carry = nil
	}
	whole := len(data) &^ 1
	for i := 0; i < whole; i += 2 {
		v := int16(binary.LittleEndian.Uint16(data[i:]))
		s.samples[s.next] = float64(v) / 32768
		s.next = (s.next + 1) % s.size
	}
	if whole < len(data) {
		s.carry = []byte{data[whole]}
	}
	return len(p), nil
}

// ByteFrequencyData fills dst with the current byte-scaled spectrum and returns it.
// dst is reallocated when shorter than BinCount.
func (s *Spectrum) ByteFrequencyData(dst []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	bins := s.size / 2
	if cap(dst) < bins {
		dst = make([]byte, bins)
	}
	dst = dst[:bins]

	// oldest sample first
	for i := 0; i < s.size; i++ {
		s.scratch[i] = s.samples[(s.next+i)%s.size] * s.window[i]
	}
	s.coeffs = s.fft.Coefficients(s.coeffs, s.scratch)

	scale := 255 / (s.maxDB - s.minDB)
	for k := 0; k < bins; k++ {
		mag := cmplx.Abs(s.coeffs[k]) / float64(s.size)
		s.smoothed[k] = s.smoothing*s.smoothed[k] + (1-s.smoothing)*mag

		db := math.Inf(-1)
		if s.smoothed[k] > 0 {
			db = 20 * math.Log10(s.smoothed[k])
		}
		v := (db - s.minDB) * scale
		switch {
		case v < 0 || math.IsNaN(v):
			dst[k] = 0
		case v > 255:
			dst[k] = 255
		default:
			dst[k] = byte(v)
		}
	}
	return dst
}

// Reset clears the window and the smoothing history
func (s *Spectrum) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.samples {
		s.samples[i] = 0
	}
	for i := range s.smoothed {
		s.smoothed[i] = 0
	}
	s.next = 0
	s.carry = nil
}
