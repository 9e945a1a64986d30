package audio

import (
	"sync"
	"time"
)

const fakeFrameSize = 1024

// FakeContext stands in for the platform backend in tests and in
// file-driven runs. Captures replay pcm (16-bit mono) when started.
type FakeContext struct {
	pcm      []byte
	realtime bool

	// OpenErr and StartErr are returned by NewCapture and Start.
	OpenErr  error
	StartErr error

	mu        sync.Mutex
	captures  []*FakeCapture
	playbacks []*FakePlayback
}

func NewFakeContext(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

// NewFakeContextFromFile decodes an audio file and replays it as the
// microphone.
func NewFakeContextFromFile(path string, realtime bool) (*FakeContext, error) {
	pcm, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	resampled := Resample(pcm.Samples, pcm.SampleRate, DefaultSampleRate)
	return NewFakeContext(FloatToPCM(resampled), realtime), nil
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, cfg CaptureConfig) (CaptureDevice, error) {
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	c := &FakeCapture{pcm: f.pcm, realtime: f.realtime, startErr: f.StartErr, sampleRate: int(cfg.SampleRate)}
	f.mu.Lock()
	f.captures = append(f.captures, c)
	f.mu.Unlock()
	return c, nil
}

func (f *FakeContext) NewPlayback(sampleRate int) (PlaybackDevice, error) {
	p := &FakePlayback{SampleRate: sampleRate}
	f.mu.Lock()
	f.playbacks = append(f.playbacks, p)
	f.mu.Unlock()
	return p, nil
}

func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeCapture(nil), f.captures...)
}

func (f *FakeContext) Playbacks() []*FakePlayback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakePlayback(nil), f.playbacks...)
}

type FakeCapture struct {
	pcm        []byte
	realtime   bool
	startErr   error
	sampleRate int

	mu       sync.Mutex
	cb       DataCallback
	running  bool
	closed   bool
	stopCh    chan struct{}
	feedDone  chan struct{}
	audioDone chan struct{}
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *FakeCapture) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Emit delivers pcm to the callback as if the device had captured it.
func (f *FakeCapture) Emit(pcm []byte) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(pcm, uint32(len(pcm)/bytesPerSample))
	}
}

func (f *FakeCapture) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.running = true
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	f.audioDone = make(chan struct{})
	audioDone := f.audioDone
	f.mu.Unlock()

	chunkBytes := fakeFrameSize * bytesPerSample

	if !f.realtime {
		for pos := 0; pos < len(f.pcm); pos += chunkBytes {
			f.Emit(f.pcm[pos:min(pos+chunkBytes, len(f.pcm))])
		}
		close(audioDone)
		close(f.feedDone)
		return nil
	}

	rate := f.sampleRate
	if rate == 0 {
		rate = DefaultSampleRate
	}
	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(rate)
	go func() {
		defer close(f.feedDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		silence := make([]byte, chunkBytes)
		pos := 0
		if len(f.pcm) == 0 {
			close(audioDone)
		}
		for {
			select {
			case <-f.stopCh:
				return
			case <-ticker.C:
			}
			if pos < len(f.pcm) {
				end := min(pos+chunkBytes, len(f.pcm))
				f.Emit(f.pcm[pos:end])
				pos = end
				if pos == len(f.pcm) {
					close(audioDone)
				}
			} else {
				f.Emit(silence)
			}
		}
	}()
	return nil
}

// AudioDone is closed once the whole recording has been delivered. It is
// nil before Start.
func (f *FakeCapture) AudioDone() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioDone
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	close(f.stopCh)
	done := f.feedDone
	f.mu.Unlock()
	<-done
}

func (f *FakeCapture) Close() {
	f.Stop()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

type FakePlayback struct {
	SampleRate int

	mu      sync.Mutex
	started bool
	closed  bool
	written int
}

func (p *FakePlayback) Start() error {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	return nil
}

func (p *FakePlayback) Write(samples []float32) {
	p.mu.Lock()
	p.written += len(samples)
	p.mu.Unlock()
}

func (p *FakePlayback) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Written reports how many samples reached the device.
func (p *FakePlayback) Written() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

func (p *FakePlayback) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
