package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"earshot/audio"
)

func TestRequestID(t *testing.T) {
	h := http.Header{}
	if got := requestID(h); got != "?" {
		t.Errorf("got %q, want ?", got)
	}
	h.Set("X-Request-Id", "abc")
	if got := requestID(h); got != "abc" {
		t.Errorf("got %q, want abc", got)
	}
}

func TestRecognitionErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := error(&RecognitionError{Code: CodeNetwork, Err: cause})
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if !strings.Contains(err.Error(), "network") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestDeepgramApply(t *testing.T) {
	s := &deepgramSession{}

	steps := []struct {
		text    string
		isFinal bool
		emit    bool
		index   int
		joined  string
	}{
		{"hello", false, true, 0, "hello"},
		{"hello world", true, true, 0, "hello world"},
		{"", false, false, 0, ""},
		{"how are", false, true, 1, "hello world how are"},
		{"", true, false, 0, ""},
		{"how are you", true, true, 1, "hello world how are you"},
	}
	for i, st := range steps {
		ev, ok := s.apply(st.text, st.isFinal)
		if ok != st.emit {
			t.Fatalf("step %d: emit = %v, want %v", i, ok, st.emit)
		}
		if !ok {
			continue
		}
		if ev.ResultIndex != st.index {
			t.Errorf("step %d: index = %d, want %d", i, ev.ResultIndex, st.index)
		}
		var b strings.Builder
		for _, r := range ev.Results {
			b.WriteString(r.Transcript)
		}
		if b.String() != st.joined {
			t.Errorf("step %d: results = %q, want %q", i, b.String(), st.joined)
		}
	}
}

func TestDeepgramApplyAfterClose(t *testing.T) {
	s := &deepgramSession{closing: true}
	if _, ok := s.apply("late", true); ok {
		t.Fatal("closed session emitted a result")
	}
}

type chanSink struct {
	events chan RecognitionEvent
	errs   chan *RecognitionError
}

func newChanSink() *chanSink {
	return &chanSink{events: make(chan RecognitionEvent, 16), errs: make(chan *RecognitionError, 4)}
}

func (s *chanSink) OnResult(ev RecognitionEvent)    { s.events <- ev }
func (s *chanSink) OnError(err *RecognitionError) { s.errs <- err }

type fakeDeepgram struct {
	srv *httptest.Server

	mu       sync.Mutex
	query    string
	auth     string
	binBytes int
	texts    []string
}

func newFakeDeepgram(t *testing.T, messages []string) *fakeDeepgram {
	t.Helper()
	fd := &fakeDeepgram{}
	fd.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fd.mu.Lock()
		fd.query = r.URL.RawQuery
		fd.auth = r.Header.Get("Authorization")
		fd.mu.Unlock()

		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		for _, m := range messages {
			if err := c.Write(ctx, websocket.MessageText, []byte(m)); err != nil {
				return
			}
		}
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			fd.mu.Lock()
			if typ == websocket.MessageBinary {
				fd.binBytes += len(data)
			} else {
				fd.texts = append(fd.texts, string(data))
			}
			fd.mu.Unlock()
		}
	}))
	t.Cleanup(fd.srv.Close)
	return fd
}

func resultMessage(text string, isFinal bool) string {
	msg := map[string]any{
		"type":     "Results",
		"is_final": isFinal,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": text}},
		},
	}
	b, _ := json.Marshal(msg)
	return string(b)
}

func waitEvent(t *testing.T, sink *chanSink) RecognitionEvent {
	t.Helper()
	select {
	case ev := <-sink.events:
		return ev
	case err := <-sink.errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
	}
	return RecognitionEvent{}
}

func TestDeepgramStream(t *testing.T) {
	fd := newFakeDeepgram(t, []string{
		`{"type":"Metadata"}`,
		resultMessage("hello", false),
		resultMessage("hello world", true),
		resultMessage("again", false),
	})
	dg := NewDeepgram(DeepgramConfig{APIKey: "secret", URL: fd.srv.URL, Language: "de-DE"})
	fc := audio.NewFakeContext(nil, false)
	stream, err := audio.NewMediaSession(fc, nil, audio.CaptureConfig{}).Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Release()
	sink := newChanSink()

	sess, err := dg.Start(context.Background(), stream, sink)
	if err != nil {
		t.Fatal(err)
	}

	ev := waitEvent(t, sink)
	if ev.Results[0].Transcript != "hello" || ev.Results[0].IsFinal {
		t.Fatalf("first event = %+v", ev)
	}
	ev = waitEvent(t, sink)
	if !ev.Results[0].IsFinal || ev.Results[0].Transcript != "hello world" {
		t.Fatalf("second event = %+v", ev)
	}
	ev = waitEvent(t, sink)
	if ev.ResultIndex != 1 || ev.Results[1].Transcript != " again" {
		t.Fatalf("third event = %+v", ev)
	}

	// 200ms of 16kHz mono PCM is one chunk.
	fc.Captures()[0].Emit(make([]byte, 6400))

	deadline := time.Now().Add(5 * time.Second)
	for {
		fd.mu.Lock()
		n := fd.binBytes
		fd.mu.Unlock()
		if n >= 6400 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server got %d audio bytes, want 6400", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	sess.Stop()
	sess.Stop()

	fd.mu.Lock()
	defer fd.mu.Unlock()
	for _, want := range []string{"model=nova-3", "language=de-DE", "encoding=linear16", "sample_rate=16000", "interim_results=true"} {
		if !strings.Contains(fd.query, want) {
			t.Errorf("query %q missing %s", fd.query, want)
		}
	}
	if fd.auth != "Token secret" {
		t.Errorf("auth = %q", fd.auth)
	}
	if len(fd.texts) == 0 || !strings.Contains(fd.texts[0], "CloseStream") {
		t.Errorf("server text frames = %q, want CloseStream", fd.texts)
	}
	select {
	case err := <-sink.errs:
		t.Errorf("error after stop: %v", err)
	default:
	}
}

func TestDeepgramUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewDeepgram(DeepgramConfig{URL: srv.URL}).Start(context.Background(), testStream(t), newChanSink())
	var re *RecognitionError
	if !errors.As(err, &re) || re.Code != CodeNotAllowed {
		t.Fatalf("err = %v, want not-allowed", err)
	}
}

func TestDeepgramUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewDeepgram(DeepgramConfig{URL: url}).Start(context.Background(), testStream(t), newChanSink())
	var re *RecognitionError
	if !errors.As(err, &re) || re.Code != CodeNetwork {
		t.Fatalf("err = %v, want network", err)
	}
}

func TestDeepgramNoSpeech(t *testing.T) {
	fd := newFakeDeepgram(t, nil)
	dg := NewDeepgram(DeepgramConfig{URL: fd.srv.URL, NoSpeechTimeout: 50 * time.Millisecond})
	sink := newChanSink()

	sess, err := dg.Start(context.Background(), testStream(t), sink)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Stop()

	select {
	case err := <-sink.errs:
		if err.Code != CodeNoSpeech {
			t.Fatalf("code = %s, want no-speech", err.Code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no-speech timeout never fired")
	}
	select {
	case err := <-sink.errs:
		t.Fatalf("second error: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}
