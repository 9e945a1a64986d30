package transcriber

import (
	"context"
	"sync"

	"earshot/audio"
	"earshot/log"
)

type RecognizerState int

const (
	Idle RecognizerState = iota
	Listening
)

func (s RecognizerState) String() string {
	if s == Listening {
		return "listening"
	}
	return "idle"
}

// RecognizerSink is called outside the recognizer's lock, from the
// backend's goroutine.
type RecognizerSink interface {
	OnTranscript(t Transcript)
	OnError(err *RecognitionError)
}

// Recognizer runs one continuous recognition session at a time and merges
// its result events into a Transcript.
type Recognizer struct {
	backend Backend

	mu         sync.Mutex
	sink       RecognizerSink
	state      RecognizerState
	gen        uint64
	session    BackendSession
	transcript Transcript
	consumed   int

	// failedGen is the generation that handleError last ended.
	failedGen uint64
	failedErr *RecognitionError
}

// NewRecognizer returns a recognizer bound to backend. A nil backend is
// allowed; Start then reports ErrUnsupportedFeature.
func NewRecognizer(backend Backend) *Recognizer {
	return &Recognizer{backend: backend}
}

func (r *Recognizer) SetSink(sink RecognizerSink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

func (r *Recognizer) Supported() bool { return r.backend != nil }

func (r *Recognizer) BackendName() string {
	if r.backend == nil {
		return "none"
	}
	return r.backend.Name()
}

func (r *Recognizer) State() RecognizerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recognizer) Transcript() Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcript
}

// Start begins a new session on stream. A session that is already running
// is stopped first. The transcript starts empty.
func (r *Recognizer) Start(ctx context.Context, stream *audio.Stream) error {
	if r.backend == nil {
		return ErrUnsupportedFeature
	}

	r.mu.Lock()
	prev := r.session
	r.session = nil
	r.gen++
	gen := r.gen
	r.state = Listening
	r.transcript = Transcript{}
	r.consumed = 0
	r.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}

	sess, err := r.backend.Start(ctx, stream, &sessionSink{r: r, gen: gen})

	r.mu.Lock()
	if r.gen != gen {
		// Failed, stopped or restarted while the backend was connecting.
		if err == nil {
			err = ErrAborted
			if r.failedGen == gen && r.failedErr != nil {
				err = r.failedErr
			}
		}
		r.mu.Unlock()
		if sess != nil {
			sess.Stop()
		}
		return err
	}
	if err != nil {
		r.state = Idle
		r.mu.Unlock()
		return err
	}
	r.session = sess
	r.mu.Unlock()

	log.Infof("recognizer: %s session started", r.backend.Name())
	return nil
}

// Stop ends the running session and keeps the transcript. Idempotent.
func (r *Recognizer) Stop() {
	r.mu.Lock()
	sess := r.stopLocked()
	r.mu.Unlock()
	if sess != nil {
		sess.Stop()
	}
}

// Reset stops any session and forgets its transcript and consumed result
// index, so the next Start begins from a clean subscription.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	sess := r.stopLocked()
	r.transcript = Transcript{}
	r.consumed = 0
	r.mu.Unlock()
	if sess != nil {
		sess.Stop()
	}
}

func (r *Recognizer) stopLocked() BackendSession {
	if r.state == Idle {
		return nil
	}
	r.gen++
	r.state = Idle
	r.transcript.Interim = ""
	sess := r.session
	r.session = nil
	return sess
}

func (r *Recognizer) handleResult(gen uint64, ev RecognitionEvent) {
	r.mu.Lock()
	if gen != r.gen || r.state != Listening {
		r.mu.Unlock()
		return
	}
	start := max(ev.ResultIndex, r.consumed)
	interim := ""
	for i := start; i < len(ev.Results); i++ {
		res := ev.Results[i]
		if res.IsFinal {
			r.transcript.Final += res.Transcript
			r.consumed = i + 1
		} else {
			interim += res.Transcript
		}
	}
	r.transcript.Interim = interim
	t := r.transcript
	sink := r.sink
	r.mu.Unlock()

	if sink != nil {
		sink.OnTranscript(t)
	}
}

func (r *Recognizer) handleError(gen uint64, err *RecognitionError) {
	r.mu.Lock()
	if gen != r.gen || r.state != Listening {
		r.mu.Unlock()
		return
	}
	r.failedGen, r.failedErr = gen, err
	r.gen++
	r.state = Idle
	r.session = nil
	r.transcript.Interim = ""
	sink := r.sink
	r.mu.Unlock()

	log.Warnf("recognizer: %v", err)
	if sink != nil {
		sink.OnError(err)
	}
}

// sessionSink tags backend callbacks with the generation they belong to.
type sessionSink struct {
	r   *Recognizer
	gen uint64
}

func (s *sessionSink) OnResult(ev RecognitionEvent)    { s.r.handleResult(s.gen, ev) }
func (s *sessionSink) OnError(err *RecognitionError) { s.r.handleError(s.gen, err) }
