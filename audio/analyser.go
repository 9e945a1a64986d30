package audio

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	DefaultFFTSize = 256

	minDecibels   = -100.0
	maxDecibels   = -30.0
	smoothingTime = 0.8
)

// Analyser keeps the most recent fftSize samples and passes its input
// through to its outputs unchanged.
type Analyser struct {
	fftSize int
	fft     *fourier.FFT
	window  []float64
	out     outputs

	mu       sync.Mutex
	ring     []float32
	pos      int
	smoothed []float64
}

func newAnalyser(fftSize int) *Analyser {
	if fftSize <= 0 {
		fftSize = DefaultFFTSize
	}
	return &Analyser{
		fftSize:  fftSize,
		fft:      fourier.NewFFT(fftSize),
		window:   blackman(fftSize),
		ring:     make([]float32, fftSize),
		smoothed: make([]float64, fftSize/2),
	}
}

func blackman(n int) []float64 {
	const a = 0.16
	a0, a1, a2 := (1-a)/2, 0.5, a/2
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

func (a *Analyser) FFTSize() int { return a.fftSize }

func (a *Analyser) FrequencyBinCount() int { return a.fftSize / 2 }

func (a *Analyser) Connect(dst Node) error {
	a.out.add(dst)
	return nil
}

func (a *Analyser) Disconnect() { a.out.clear() }

func (a *Analyser) Receive(samples []float32) {
	a.mu.Lock()
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % a.fftSize
	}
	a.mu.Unlock()
	a.out.emit(samples)
}

// ByteFrequencyData writes one magnitude per bin into dst, scaled so that
// minDecibels maps to 0 and maxDecibels to 255.
func (a *Analyser) ByteFrequencyData(dst []uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()

	frame := make([]float64, a.fftSize)
	for i := range frame {
		frame[i] = float64(a.ring[(a.pos+i)%a.fftSize]) * a.window[i]
	}
	coeffs := a.fft.Coefficients(nil, frame)

	bins := min(len(dst), a.FrequencyBinCount())
	scale := 255 / (maxDecibels - minDecibels)
	for k := 0; k < a.FrequencyBinCount(); k++ {
		mag := math.Hypot(real(coeffs[k]), imag(coeffs[k])) / float64(a.fftSize)
		a.smoothed[k] = smoothingTime*a.smoothed[k] + (1-smoothingTime)*mag
		if k >= bins {
			continue
		}
		db := minDecibels
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		v := scale * (db - minDecibels)
		dst[k] = uint8(math.Max(0, math.Min(255, v)))
	}
}
