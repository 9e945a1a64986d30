package audio

import (
	"errors"
	"sync"
	"time"
)

var ErrElementClosed = errors.New("audio element closed")

type ElementEvent int

const (
	EventPlay ElementEvent = iota
	EventPause
	EventEnded
)

func (e ElementEvent) String() string {
	switch e {
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	default:
		return "ended"
	}
}

const elementChunk = 1024

// Element plays decoded file audio in real time, feeding taps (engine
// source nodes) chunk by chunk. pcm is nil for files that cannot be
// decoded locally; such elements exist only to carry their URL.
type Element struct {
	url string
	pcm *PCM

	mu        sync.Mutex
	pos       int
	playing   bool
	closed    bool
	stop      chan struct{}
	done      chan struct{}
	listeners map[ElementEvent]map[int]func()
	taps      map[int]func([]float32)
	nextID    int
}

func NewElement(url string, pcm *PCM) *Element {
	return &Element{
		url:       url,
		pcm:       pcm,
		listeners: make(map[ElementEvent]map[int]func()),
		taps:      make(map[int]func([]float32)),
	}
}

func (e *Element) URL() string { return e.url }

func (e *Element) Playable() bool { return e.pcm != nil && len(e.pcm.Samples) > 0 }

func (e *Element) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.playing
}

func (e *Element) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pcm == nil || e.pcm.SampleRate == 0 {
		return 0
	}
	return time.Duration(e.pos) * time.Second / time.Duration(e.pcm.SampleRate)
}

// On registers fn for ev and returns a func that removes it.
func (e *Element) On(ev ElementEvent, fn func()) (remove func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	if e.listeners[ev] == nil {
		e.listeners[ev] = make(map[int]func())
	}
	e.listeners[ev][id] = fn
	return func() {
		e.mu.Lock()
		delete(e.listeners[ev], id)
		e.mu.Unlock()
	}
}

func (e *Element) fire(ev ElementEvent) {
	e.mu.Lock()
	fns := make([]func(), 0, len(e.listeners[ev]))
	for _, fn := range e.listeners[ev] {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (e *Element) tap(fn func([]float32)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.taps[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.taps, id)
		e.mu.Unlock()
	}
}

// Play starts or resumes playback. Playing an element that has reached
// the end restarts it from the beginning.
func (e *Element) Play() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrElementClosed
	}
	if !e.Playable() {
		e.mu.Unlock()
		return ErrUnsupportedCodec
	}
	if e.playing {
		e.mu.Unlock()
		return nil
	}
	if e.pos >= len(e.pcm.Samples) {
		e.pos = 0
	}
	e.playing = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stop, e.done
	e.mu.Unlock()

	e.fire(EventPlay)
	go e.run(stop, done)
	return nil
}

func (e *Element) run(stop, done chan struct{}) {
	defer close(done)
	interval := time.Duration(elementChunk) * time.Second / time.Duration(e.pcm.SampleRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		if e.pos >= len(e.pcm.Samples) {
			e.playing = false
			e.mu.Unlock()
			e.fire(EventEnded)
			return
		}
		end := min(e.pos+elementChunk, len(e.pcm.Samples))
		chunk := e.pcm.Samples[e.pos:end]
		e.pos = end
		taps := make([]func([]float32), 0, len(e.taps))
		for _, fn := range e.taps {
			taps = append(taps, fn)
		}
		e.mu.Unlock()

		for _, fn := range taps {
			fn(chunk)
		}
	}
}

func (e *Element) Pause() {
	e.mu.Lock()
	if !e.playing {
		e.mu.Unlock()
		return
	}
	e.playing = false
	close(e.stop)
	done := e.done
	e.mu.Unlock()

	<-done
	e.fire(EventPause)
}

// Close stops playback without firing pause and drops every listener.
func (e *Element) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	var done chan struct{}
	if e.playing {
		e.playing = false
		close(e.stop)
		done = e.done
	}
	e.listeners = make(map[ElementEvent]map[int]func())
	e.taps = make(map[int]func([]float32))
	e.mu.Unlock()

	if done != nil {
		<-done
	}
}
