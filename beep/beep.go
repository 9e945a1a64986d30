// Package beep plays the short cues for recording start, stop and errors.
package beep

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"earshot/audio"
	"earshot/log"
)

const (
	sampleRate = 44100

	// Start beep: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// End beep: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error beep: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30

	// tail keeps the device open while its buffer drains.
	tail = 50 * time.Millisecond
)

type Player struct {
	ctx      audio.Context
	disabled atomic.Bool
	wg       sync.WaitGroup

	once                      sync.Once
	start, end, errorSamples []float32
}

func New(ctx audio.Context) *Player {
	return &Player{ctx: ctx}
}

func (p *Player) Disable() { p.disabled.Store(true) }

func (p *Player) init() {
	p.start = generateTick(sampleRate, startFreq, 0.2, startVolume, startDecay)
	p.end = generateTick(sampleRate, endFreq, 0.2, endVolume, endDecay)
	p.errorSamples = generateDoubleBeep(sampleRate, errorFreq, 0.08, 0.05, errorVolume, errorDecay)
}

func (p *Player) PlayStart() { p.once.Do(p.init); p.play(p.start) }
func (p *Player) PlayEnd()   { p.once.Do(p.init); p.play(p.end) }
func (p *Player) PlayError() { p.once.Do(p.init); p.play(p.errorSamples) }

// Wait blocks until every cue started so far has finished.
func (p *Player) Wait() { p.wg.Wait() }

func (p *Player) play(samples []float32) {
	if p.ctx == nil || p.disabled.Load() || len(samples) == 0 {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		dev, err := p.ctx.NewPlayback(sampleRate)
		if err != nil {
			log.Debugf("beep: %v", err)
			return
		}
		defer dev.Close()
		if err := dev.Start(); err != nil {
			log.Debugf("beep: %v", err)
			return
		}
		dev.Write(samples)
		time.Sleep(time.Duration(len(samples))*time.Second/sampleRate + tail)
	}()
}

func generateTick(sampleRate int, freq float64, duration float64, volume float64, decay float64) []float32 {
	n := int(float64(sampleRate) * duration)
	samples := make([]float32, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		samples[i] = float32(math.Sin(2*math.Pi*freq*t) * volume * envelope)
	}
	return samples
}

func generateDoubleBeep(sampleRate int, freq float64, beepDur float64, gapDur float64, volume float64, decay float64) []float32 {
	beep := generateTick(sampleRate, freq, beepDur, volume, decay)
	gap := make([]float32, int(float64(sampleRate)*gapDur))
	result := make([]float32, 0, len(beep)*2+len(gap))
	result = append(result, beep...)
	result = append(result, gap...)
	result = append(result, beep...)
	return result
}
