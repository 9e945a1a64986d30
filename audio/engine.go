package audio

import (
	"errors"
	"sync"

	"earshot/log"
)

var (
	ErrGraphsAttached = errors.New("audio engine still has connected sources")
	ErrEngineClosed   = errors.New("audio engine closed")
)

type EngineState int

const (
	EngineRunning EngineState = iota
	EngineSuspended
	EngineClosed
)

func (s EngineState) String() string {
	switch s {
	case EngineRunning:
		return "running"
	case EngineSuspended:
		return "suspended"
	default:
		return "closed"
	}
}

// Node is one processing step in an engine graph. Receive is called with
// mono samples flowing from upstream.
type Node interface {
	Connect(dst Node) error
	Disconnect()
	Receive(samples []float32)
}

type AnalyserNode interface {
	Node
	FrequencyBinCount() int
	ByteFrequencyData(dst []uint8)
}

// Engine is the process-wide processing context. Samples only flow while
// it is running.
type Engine struct {
	backend    Context
	sampleRate int

	mu       sync.Mutex
	state    EngineState
	attached int
	dest     *destination
}

func NewEngine(backend Context, sampleRate int) *Engine {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	e := &Engine{backend: backend, sampleRate: sampleRate}
	e.dest = &destination{engine: e}
	return e
}

func (e *Engine) SampleRate() int { return e.sampleRate }

func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Suspend() {
	e.mu.Lock()
	if e.state == EngineRunning {
		e.state = EngineSuspended
	}
	e.mu.Unlock()
}

func (e *Engine) Resume() {
	e.mu.Lock()
	if e.state == EngineSuspended {
		e.state = EngineRunning
	}
	e.mu.Unlock()
}

func (e *Engine) running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == EngineRunning
}

// Attached reports how many source nodes are currently connected.
func (e *Engine) Attached() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attached
}

func (e *Engine) sourceConnected(delta int) {
	e.mu.Lock()
	e.attached += delta
	e.mu.Unlock()
}

// Close releases the output device. It refuses while sources are still
// connected and is a no-op on a closed engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == EngineClosed {
		return nil
	}
	if e.attached > 0 {
		return ErrGraphsAttached
	}
	e.state = EngineClosed
	e.dest.close()
	return nil
}

func (e *Engine) Destination() Node { return e.dest }

func (e *Engine) NewAnalyser(fftSize int) AnalyserNode {
	return newAnalyser(fftSize)
}

// NewStreamSource taps a capture stream. The node emits nothing until it
// is connected.
func (e *Engine) NewStreamSource(s *Stream) Node {
	src := &sourceNode{engine: e}
	src.unsubscribe = s.Subscribe(func(pcm []byte) {
		src.Receive(PCMToFloat(pcm))
	})
	return src
}

func (e *Engine) NewElementSource(el *Element) Node {
	src := &sourceNode{engine: e}
	src.unsubscribe = el.tap(src.Receive)
	return src
}

// outputs is the fan-out shared by every node type.
type outputs struct {
	mu   sync.Mutex
	dsts []Node
}

func (o *outputs) add(dst Node) {
	o.mu.Lock()
	o.dsts = append(o.dsts, dst)
	o.mu.Unlock()
}

func (o *outputs) clear() int {
	o.mu.Lock()
	n := len(o.dsts)
	o.dsts = nil
	o.mu.Unlock()
	return n
}

func (o *outputs) emit(samples []float32) {
	o.mu.Lock()
	dsts := append([]Node(nil), o.dsts...)
	o.mu.Unlock()
	for _, d := range dsts {
		d.Receive(samples)
	}
}

type sourceNode struct {
	engine      *Engine
	out         outputs
	unsubscribe func()
	once        sync.Once
}

func (s *sourceNode) Connect(dst Node) error {
	if s.engine.State() == EngineClosed {
		return ErrEngineClosed
	}
	s.out.mu.Lock()
	first := len(s.out.dsts) == 0
	s.out.mu.Unlock()
	s.out.add(dst)
	if first {
		s.engine.sourceConnected(1)
	}
	return nil
}

// Disconnect drops every output and detaches from the upstream stream or
// element. A disconnected source cannot be reused.
func (s *sourceNode) Disconnect() {
	if s.out.clear() > 0 {
		s.engine.sourceConnected(-1)
	}
	s.once.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}

func (s *sourceNode) Receive(samples []float32) {
	if !s.engine.running() {
		return
	}
	s.out.emit(samples)
}

// destination lazily opens the backend's playback device on first use.
type destination struct {
	engine *Engine

	mu     sync.Mutex
	device PlaybackDevice
	failed bool
}

func (d *destination) Connect(Node) error { return errors.New("destination has no outputs") }
func (d *destination) Disconnect()        {}

func (d *destination) Receive(samples []float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil && !d.failed {
		if d.engine.backend == nil {
			d.failed = true
			return
		}
		dev, err := d.engine.backend.NewPlayback(d.engine.sampleRate)
		if err == nil {
			err = dev.Start()
		}
		if err != nil {
			log.Warnf("playback unavailable: %v", err)
			d.failed = true
			return
		}
		d.device = dev
	}
	if d.device != nil {
		d.device.Write(samples)
	}
}

func (d *destination) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device != nil {
		d.device.Close()
		d.device = nil
	}
	d.failed = true
}

var (
	sharedMu      sync.Mutex
	shared        *Engine
	sharedBackend Context
	sharedRate    = DefaultSampleRate
)

// ConfigureShared sets the backend and rate used when Shared first builds
// the engine. It does not affect an engine that already exists.
func ConfigureShared(backend Context, sampleRate int) {
	sharedMu.Lock()
	sharedBackend = backend
	if sampleRate > 0 {
		sharedRate = sampleRate
	}
	sharedMu.Unlock()
}

// Shared returns the process-wide engine, building it on first use and
// resuming it if suspended.
func Shared() *Engine {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil || shared.State() == EngineClosed {
		shared = NewEngine(sharedBackend, sharedRate)
	}
	shared.Resume()
	return shared
}

// CloseShared closes the shared engine if one exists. Calling it again, or
// before Shared, does nothing.
func CloseShared() error {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		return nil
	}
	if err := shared.Close(); err != nil {
		return err
	}
	shared = nil
	return nil
}

// IsRunning reports whether a shared engine exists and is not suspended.
func IsRunning() bool {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	return shared != nil && shared.State() == EngineRunning
}
