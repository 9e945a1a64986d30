package transcriber

import (
	"context"
	"os"
	"sync"

	"earshot/audio"
)

// FakeBackend lets tests drive a recognition session by hand.
type FakeBackend struct {
	StartErr error
	// OnStart runs before Start returns, with the new session.
	OnStart func(s *FakeSession)

	mu       sync.Mutex
	sessions []*FakeSession
}

func NewFakeBackend() *FakeBackend { return &FakeBackend{} }

func (f *FakeBackend) Name() string { return "fake" }

func (f *FakeBackend) Start(_ context.Context, stream *audio.Stream, sink BackendSink) (BackendSession, error) {
	if f.StartErr != nil {
		return nil, f.StartErr
	}
	s := &FakeSession{sink: sink, stream: stream}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	hook := f.OnStart
	f.mu.Unlock()
	if hook != nil {
		hook(s)
	}
	return s, nil
}

func (f *FakeBackend) Sessions() []*FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeSession(nil), f.sessions...)
}

// Last returns the most recently started session, or nil.
func (f *FakeBackend) Last() *FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

type FakeSession struct {
	sink   BackendSink
	stream *audio.Stream

	mu    sync.Mutex
	stops int
}

func (s *FakeSession) Stream() *audio.Stream { return s.stream }

// Emit delivers ev as if the backend had produced it, even after Stop, so
// tests can check that late events are ignored.
func (s *FakeSession) Emit(ev RecognitionEvent) { s.sink.OnResult(ev) }

func (s *FakeSession) Fail(code string) { s.sink.OnError(&RecognitionError{Code: code}) }

func (s *FakeSession) Stop() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

func (s *FakeSession) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// FakeEngine returns a fixed transcript or error and records the files it
// was given.
type FakeEngine struct {
	Text string
	Err  error
	// Hook runs before the result is returned, while the file exists.
	Hook func(path string)

	mu    sync.Mutex
	paths []string
	sizes []int64
}

func NewFakeEngine(text string, err error) *FakeEngine {
	return &FakeEngine{Text: text, Err: err}
}

func (f *FakeEngine) Name() string { return "fake" }

func (f *FakeEngine) Transcribe(ctx context.Context, path string) (*Transcription, error) {
	var size int64 = -1
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.sizes = append(f.sizes, size)
	f.mu.Unlock()

	if f.Hook != nil {
		f.Hook(path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return &Transcription{Text: f.Text}, nil
}

func (f *FakeEngine) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

// Sizes reports the size each file had when the engine saw it, or -1 if
// it did not exist.
func (f *FakeEngine) Sizes() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.sizes...)
}
