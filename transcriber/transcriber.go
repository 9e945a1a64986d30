package transcriber

import (
	"context"
	"errors"
	"fmt"

	"earshot/audio"
)

var (
	ErrUnsupportedFeature = errors.New("speech recognition not supported")
	// ErrAborted is returned by Start when the session was stopped before
	// the backend finished connecting.
	ErrAborted = errors.New("recognition session ended while starting")
)

// Error codes reported by recognition backends.
const (
	CodeAudioCapture = "audio-capture"
	CodeNetwork      = "network"
	CodeNoSpeech     = "no-speech"
	CodeNotAllowed   = "not-allowed"
	CodeAborted      = "aborted"
)

type RecognitionError struct {
	Code string
	Err  error
}

func (e *RecognitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recognition error %s: %v", e.Code, e.Err)
	}
	return "recognition error " + e.Code
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// Transcript is the running text of a recognition session. Final only
// grows; Interim is replaced on every event.
type Transcript struct {
	Final   string
	Interim string
}

func (t Transcript) Text() string { return t.Final + t.Interim }

type RecognitionResult struct {
	Transcript string
	IsFinal    bool
}

// RecognitionEvent mirrors a continuous recognizer's result list: Results
// holds every result of the session so far and ResultIndex is the first
// one that changed.
type RecognitionEvent struct {
	ResultIndex int
	Results     []RecognitionResult
}

// BackendSink receives the output of one backend session. OnError is
// terminal; the session delivers nothing after it.
type BackendSink interface {
	OnResult(ev RecognitionEvent)
	OnError(err *RecognitionError)
}

type Backend interface {
	Name() string
	Start(ctx context.Context, stream *audio.Stream, sink BackendSink) (BackendSession, error)
}

type BackendSession interface {
	// Stop ends the session. Safe to call more than once.
	Stop()
}
