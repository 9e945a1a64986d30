package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"earshot/audio"
	"earshot/log"
)

const (
	deepgramURL     = "wss://api.deepgram.com/v1/listen"
	streamChunkMs   = 200
	audioQueueDepth = 128
)

type DeepgramConfig struct {
	APIKey   string
	URL      string // defaults to deepgramURL
	Model    string
	Language string
	// NoSpeechTimeout ends the session with a no-speech error when nothing
	// is recognized this long after start. Zero disables it.
	NoSpeechTimeout time.Duration
}

// Deepgram streams microphone PCM over a websocket and reports interim
// and final results.
type Deepgram struct {
	cfg DeepgramConfig
}

func NewDeepgram(cfg DeepgramConfig) *Deepgram {
	if cfg.URL == "" {
		cfg.URL = deepgramURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-3"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	return &Deepgram{cfg: cfg}
}

func (d *Deepgram) Name() string { return "deepgram" }

type deepgramStreamResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (d *Deepgram) endpoint(sampleRate int) (string, error) {
	endpoint, err := url.Parse(d.cfg.URL)
	if err != nil {
		return "", err
	}
	q := endpoint.Query()
	q.Set("model", d.cfg.Model)
	q.Set("language", d.cfg.Language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	endpoint.RawQuery = q.Encode()
	return endpoint.String(), nil
}

func (d *Deepgram) Start(ctx context.Context, stream *audio.Stream, sink BackendSink) (BackendSession, error) {
	endpoint, err := d.endpoint(stream.SampleRate())
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.cfg.APIKey)

	connectStart := time.Now()
	conn, resp, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		code := CodeNetwork
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			code = CodeNotAllowed
		}
		return nil, &RecognitionError{Code: code, Err: err}
	}
	log.Debugf("deepgram: connected in %dms", time.Since(connectStart).Milliseconds())

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &deepgramSession{
		conn:       conn,
		ctx:        sessCtx,
		cancel:     cancel,
		sink:       sink,
		audioCh:    make(chan []byte, audioQueueDepth),
		chunkBytes: stream.SampleRate() * 2 * streamChunkMs / 1000,
		done:       make(chan struct{}),
	}
	s.unsubscribe = stream.Subscribe(s.feed)
	if d.cfg.NoSpeechTimeout > 0 {
		s.mu.Lock()
		s.noSpeech = time.AfterFunc(d.cfg.NoSpeechTimeout, func() {
			s.fail(&RecognitionError{Code: CodeNoSpeech})
		})
		s.mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.runSender() }()
	go func() { defer wg.Done(); s.runReceiver() }()
	go func() { wg.Wait(); close(s.done) }()

	return s, nil
}

type deepgramSession struct {
	conn        *websocket.Conn
	ctx         context.Context
	cancel      context.CancelFunc
	sink        BackendSink
	unsubscribe func()
	noSpeech    *time.Timer
	chunkBytes  int
	done        chan struct{}

	audioCh chan []byte
	feedMu  sync.Mutex
	feedBuf []byte

	mu      sync.Mutex
	closing bool
	results []RecognitionResult
	final   int
}

func (s *deepgramSession) feed(pcm []byte) {
	s.feedMu.Lock()
	s.feedBuf = append(s.feedBuf, pcm...)
	var chunks [][]byte
	for len(s.feedBuf) >= s.chunkBytes {
		chunk := make([]byte, s.chunkBytes)
		copy(chunk, s.feedBuf[:s.chunkBytes])
		s.feedBuf = s.feedBuf[s.chunkBytes:]
		chunks = append(chunks, chunk)
	}
	s.feedMu.Unlock()

	for _, chunk := range chunks {
		select {
		case s.audioCh <- chunk:
		case <-s.ctx.Done():
			return
		default:
			log.Warn("deepgram: audio queue full, dropping chunk")
		}
	}
}

func (s *deepgramSession) runSender() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk := <-s.audioCh:
			if err := s.conn.Write(s.ctx, websocket.MessageBinary, chunk); err != nil {
				s.fail(&RecognitionError{Code: CodeNetwork, Err: err})
				return
			}
		}
	}
}

func (s *deepgramSession) runReceiver() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.fail(&RecognitionError{Code: CodeNetwork, Err: err})
			return
		}

		var resp deepgramStreamResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Warnf("deepgram: bad message: %v", err)
			continue
		}
		if resp.Type != "" && resp.Type != "Results" {
			continue
		}

		transcript := ""
		if len(resp.Channel.Alternatives) > 0 {
			transcript = strings.TrimSpace(resp.Channel.Alternatives[0].Transcript)
		}
		if ev, ok := s.apply(transcript, resp.IsFinal || resp.SpeechFinal); ok {
			s.sink.OnResult(ev)
		}
	}
}

// apply folds one message into the session's result list. Finalized
// results stay at their index; the utterance in progress occupies the
// slot after them.
func (s *deepgramSession) apply(transcript string, isFinal bool) (RecognitionEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return RecognitionEvent{}, false
	}
	if transcript != "" && s.noSpeech != nil {
		s.noSpeech.Stop()
	}
	if isFinal && transcript == "" {
		// Empty final closes the pending utterance with nothing to add.
		s.results = s.results[:s.final]
		return RecognitionEvent{}, false
	}
	if transcript == "" {
		return RecognitionEvent{}, false
	}
	if s.final > 0 {
		transcript = " " + transcript
	}

	idx := s.final
	res := RecognitionResult{Transcript: transcript, IsFinal: isFinal}
	if len(s.results) > idx {
		s.results[idx] = res
	} else {
		s.results = append(s.results, res)
	}
	if isFinal {
		s.final++
	}
	return RecognitionEvent{
		ResultIndex: idx,
		Results:     append([]RecognitionResult(nil), s.results...),
	}, true
}

func (s *deepgramSession) shutdown() bool {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return false
	}
	s.closing = true
	timer := s.noSpeech
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	s.unsubscribe()
	return true
}

func (s *deepgramSession) fail(err *RecognitionError) {
	if !s.shutdown() {
		return
	}
	s.cancel()
	s.conn.Close(websocket.StatusInternalError, err.Code)
	s.sink.OnError(err)
}

func (s *deepgramSession) Stop() {
	if !s.shutdown() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		log.Debugf("deepgram: close stream: %v", err)
	}
	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "")
	<-s.done
}

func (d *Deepgram) String() string {
	return fmt.Sprintf("deepgram(%s, %s)", d.cfg.Model, d.cfg.Language)
}
