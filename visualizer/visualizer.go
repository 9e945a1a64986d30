// Package visualizer draws a live bar spectrum of a microphone stream or a
// playing file.
package visualizer

import (
	"errors"
	"fmt"
	"sync"

	"earshot/audio"
	"earshot/log"
)

var ErrNoSource = errors.New("visualizer: source has no stream or element")

type SourceKind int

const (
	SourceNone SourceKind = iota
	SourceLive
	SourceFile
)

func (k SourceKind) String() string {
	switch k {
	case SourceLive:
		return "live"
	case SourceFile:
		return "file"
	}
	return "none"
}

// Source is what the visualizer listens to. Exactly one kind is active.
type Source struct {
	Kind    SourceKind
	Stream  *audio.Stream
	URL     string
	Element *audio.Element
}

func None() Source { return Source{} }

func Live(s *audio.Stream) Source { return Source{Kind: SourceLive, Stream: s} }

func File(url string, el *audio.Element) Source {
	return Source{Kind: SourceFile, URL: url, Element: el}
}

// Same reports whether a and b would build the same graph.
func (a Source) Same(b Source) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case SourceLive:
		return a.Stream == b.Stream
	case SourceFile:
		return a.URL == b.URL
	}
	return true
}

// Engine builds the nodes of a graph. *audio.Engine implements it.
type Engine interface {
	NewStreamSource(s *audio.Stream) audio.Node
	NewElementSource(el *audio.Element) audio.Node
	NewAnalyser(fftSize int) audio.AnalyserNode
	Destination() audio.Node
}

type Visualizer struct {
	engine  Engine
	sched   Scheduler
	canvas  Canvas
	fftSize int

	mu        sync.Mutex
	current   Source
	gen       uint64
	source    audio.Node
	analyser  audio.AnalyserNode
	looping   bool
	loop      uint64
	frame     FrameID
	listeners []func()
	data      []uint8
}

func New(engine Engine, sched Scheduler, canvas Canvas) *Visualizer {
	return &Visualizer{engine: engine, sched: sched, canvas: canvas, fftSize: audio.DefaultFFTSize}
}

// SetFFTSize changes the analyser size for graphs built after the call.
func (v *Visualizer) SetFFTSize(n int) {
	v.mu.Lock()
	v.fftSize = n
	v.mu.Unlock()
}

func (v *Visualizer) Source() Source {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Looping reports whether a repaint is scheduled.
func (v *Visualizer) Looping() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.looping
}

// Attach switches the visualizer to src and returns a disposer for the
// resulting graph. Attaching the source that is already active keeps the
// existing graph. A disposer only tears down the graph it was returned for.
func (v *Visualizer) Attach(src Source) (dispose func(), err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if src.Same(v.current) && (src.Kind == SourceNone || v.source != nil) {
		return v.disposer(v.gen), nil
	}

	v.teardownLocked()
	v.current = None()

	switch src.Kind {
	case SourceNone:
		return v.disposer(v.gen), nil
	case SourceLive:
		if src.Stream == nil {
			return nil, ErrNoSource
		}
		err = v.buildLocked(src, v.engine.NewStreamSource(src.Stream), false)
	case SourceFile:
		if src.Element == nil {
			return nil, ErrNoSource
		}
		err = v.buildLocked(src, v.engine.NewElementSource(src.Element), true)
	default:
		return nil, fmt.Errorf("visualizer: unknown source kind %d", src.Kind)
	}
	if err != nil {
		log.Errorf("visualizer: build %s graph: %v", src.Kind, err)
		v.teardownLocked()
		v.current = None()
		return nil, err
	}
	log.Debugf("visualizer: attached %s source", src.Kind)
	return v.disposer(v.gen), nil
}

func (v *Visualizer) buildLocked(src Source, source audio.Node, audible bool) error {
	analyser := v.engine.NewAnalyser(v.fftSize)
	v.gen++
	v.source = source
	v.analyser = analyser
	v.current = src
	v.data = make([]uint8, analyser.FrequencyBinCount())

	if err := source.Connect(analyser); err != nil {
		return err
	}
	if !audible {
		// Live input is never routed to the speakers.
		v.startLoopLocked()
		return nil
	}
	if err := analyser.Connect(v.engine.Destination()); err != nil {
		return err
	}

	el, gen := src.Element, v.gen
	v.listeners = append(v.listeners,
		el.On(audio.EventPlay, func() { v.onPlayback(gen, true) }),
		el.On(audio.EventPause, func() { v.onPlayback(gen, false) }),
		el.On(audio.EventEnded, func() { v.onPlayback(gen, false) }),
	)
	v.drawLocked()
	if !el.Paused() {
		v.startLoopLocked()
	}
	return nil
}

func (v *Visualizer) onPlayback(gen uint64, playing bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen || v.source == nil {
		return
	}
	if playing {
		v.startLoopLocked()
	} else {
		v.cancelLoopLocked()
	}
}

func (v *Visualizer) startLoopLocked() {
	if v.looping {
		return
	}
	v.looping = true
	v.loop++
	v.drawLocked()
	gen, loop := v.gen, v.loop
	v.frame = v.sched.RequestFrame(func() { v.step(gen, loop) })
}

func (v *Visualizer) cancelLoopLocked() {
	if !v.looping {
		return
	}
	v.sched.CancelFrame(v.frame)
	v.looping = false
	v.loop++
}

// step belongs to one loop. A frame that already left the scheduler when
// its loop was cancelled finds a newer loop id and does nothing.
func (v *Visualizer) step(gen, loop uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen || loop != v.loop || !v.looping {
		return
	}
	v.drawLocked()
	v.frame = v.sched.RequestFrame(func() { v.step(gen, loop) })
}

// drawLocked paints one frame: one bar per bin, canvasWidth/binCount wide
// and magnitude/255 of the canvas tall.
func (v *Visualizer) drawLocked() {
	if v.analyser == nil || len(v.data) == 0 {
		return
	}
	v.analyser.ByteFrequencyData(v.data)

	width, height := v.canvas.Size()
	barWidth := width / float64(len(v.data))
	v.canvas.Clear()
	for i, mag := range v.data {
		v.canvas.FillBar(float64(i)*barWidth, barWidth, float64(mag)/255*height)
	}
	v.canvas.Flush()
}

// teardownLocked cancels the repaint, then disconnects the source node,
// then the analyser. Each node is disconnected at most once.
func (v *Visualizer) teardownLocked() {
	v.cancelLoopLocked()
	for _, remove := range v.listeners {
		remove()
	}
	v.listeners = nil
	if v.source != nil {
		v.source.Disconnect()
		v.source = nil
	}
	if v.analyser != nil {
		v.analyser.Disconnect()
		v.analyser = nil
	}
	v.gen++
}

func (v *Visualizer) disposer(gen uint64) func() {
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if gen != v.gen {
			return
		}
		v.teardownLocked()
		v.current = None()
	}
}

// Close tears down whatever graph is active.
func (v *Visualizer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.teardownLocked()
	v.current = None()
	if v.canvas != nil {
		v.canvas.Clear()
		v.canvas.Flush()
	}
}
