package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"earshot/log"
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// MediaSession hands out microphone streams. Every Acquire opens a new
// capture device; streams are never pooled.
type MediaSession struct {
	ctx    Context
	device *DeviceInfo
	config CaptureConfig
}

func NewMediaSession(ctx Context, device *DeviceInfo, config CaptureConfig) *MediaSession {
	if config.SampleRate == 0 {
		config.SampleRate = DefaultSampleRate
	}
	if config.Channels == 0 {
		config.Channels = 1
	}
	return &MediaSession{ctx: ctx, device: device, config: config}
}

func (m *MediaSession) DeviceName() string {
	if m.device != nil {
		return m.device.Name
	}
	return "system default"
}

func (m *MediaSession) SampleRate() int { return int(m.config.SampleRate) }

func (m *MediaSession) Acquire(ctx context.Context) (*Stream, error) {
	if m.ctx == nil {
		return nil, fmt.Errorf("%w: no audio backend", ErrDeviceUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dev, err := m.ctx.NewCapture(m.device, m.config)
	if err != nil {
		return nil, classify(err)
	}

	s := newStream(dev, m.DeviceName(), int(m.config.SampleRate))
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		return nil, classify(err)
	}

	if err := ctx.Err(); err != nil {
		s.Release()
		return nil, err
	}

	log.RecordingStart(m.DeviceName())
	return s, nil
}

func classify(err error) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	lower := strings.ToLower(err.Error())
	if errors.Is(err, os.ErrPermission) ||
		strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "permission") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}

type Track struct {
	Kind  string
	Label string
	live  atomic.Bool
}

func (t *Track) Live() bool { return t.live.Load() }

var streamIDs atomic.Uint64

// Stream is a live capture handle. PCM from the device is fanned out to
// every subscriber on the device's callback goroutine.
type Stream struct {
	id         uint64
	device     CaptureDevice
	tracks     []*Track
	sampleRate int

	mu      sync.Mutex
	subs    map[int]func([]byte)
	nextSub int

	releaseOnce sync.Once
}

func newStream(dev CaptureDevice, label string, sampleRate int) *Stream {
	track := &Track{Kind: "audio", Label: label}
	track.live.Store(true)
	s := &Stream{
		id:         streamIDs.Add(1),
		device:     dev,
		tracks:     []*Track{track},
		sampleRate: sampleRate,
		subs:       make(map[int]func([]byte)),
	}
	dev.SetCallback(s.dispatch)
	return s
}

func (s *Stream) ID() uint64 { return s.id }

func (s *Stream) SampleRate() int { return s.sampleRate }

func (s *Stream) Tracks() []*Track { return s.tracks }

func (s *Stream) Live() bool {
	for _, t := range s.tracks {
		if t.Live() {
			return true
		}
	}
	return false
}

// Subscribe registers fn for every captured PCM chunk and returns a func
// that removes it. Subscribing to a released stream is a no-op.
func (s *Stream) Subscribe(fn func(pcm []byte)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		return func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Stream) dispatch(data []byte, _ uint32) {
	s.mu.Lock()
	fns := make([]func([]byte), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
}

// Release stops every track. Safe to call more than once.
func (s *Stream) Release() {
	s.releaseOnce.Do(func() {
		s.device.ClearCallback()
		s.device.Stop()
		s.device.Close()
		s.mu.Lock()
		s.subs = nil
		s.mu.Unlock()
		for _, t := range s.tracks {
			t.live.Store(false)
		}
	})
}
