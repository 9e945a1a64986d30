// Package controller ties microphone capture, speech recognition, the
// spectrum visualizer, upload validation and the transcription client into
// one view model.
package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"earshot/audio"
	"earshot/comments"
	"earshot/log"
	"earshot/transcriber"
	"earshot/upload"
	"earshot/visualizer"
)

var (
	// ErrBusy is returned while a transcription request is in flight.
	ErrBusy         = errors.New("controller: transcription in progress")
	ErrEmptyComment = errors.New("controller: nothing to post")
	ErrNoFile       = errors.New("controller: no file loaded")
)

const (
	msgStartFailed   = "Error starting recording. Please try again."
	msgRecognition   = "Speech recognition error. Please try again."
	msgUnsupported   = "Speech recognition not supported. Please type your comment..."
	msgTranscribe    = "Failed to transcribe audio"
	msgCommentFailed = "Failed to post comment. Please try again."
)

type Mode int

const (
	// ModeUploader waits for an explicit SubmitTranscription after a file
	// is selected.
	ModeUploader Mode = iota
	// ModeComment submits a selected file right away and posts the
	// transcript as a comment.
	ModeComment
)

func (m Mode) String() string {
	if m == ModeComment {
		return "comment"
	}
	return "uploader"
}

type MediaSource interface {
	Acquire(ctx context.Context) (*audio.Stream, error)
}

type Recognizer interface {
	SetSink(sink transcriber.RecognizerSink)
	Supported() bool
	Start(ctx context.Context, stream *audio.Stream) error
	Stop()
	Reset()
	State() transcriber.RecognizerState
	Transcript() transcriber.Transcript
}

type Visualizer interface {
	Attach(src visualizer.Source) (dispose func(), err error)
	Close()
}

type Submitter interface {
	Submit(ctx context.Context, c upload.Candidate) (string, error)
}

type CommentStore interface {
	Attach(ctx context.Context, postID int, text string) (comments.Comment, error)
}

// ElementLoader decodes a validated file into a playable element.
type ElementLoader func(url string, c upload.Candidate) (*audio.Element, error)

// DecodeElement is the default ElementLoader.
func DecodeElement(url string, c upload.Candidate) (*audio.Element, error) {
	pcm, err := audio.Decode(c.Name, c.Data)
	if err != nil {
		return nil, err
	}
	if pcm.SampleRate != audio.DefaultSampleRate {
		pcm = &audio.PCM{
			Samples:    audio.Resample(pcm.Samples, pcm.SampleRate, audio.DefaultSampleRate),
			SampleRate: audio.DefaultSampleRate,
		}
	}
	return audio.NewElement(url, pcm), nil
}

type ViewSink interface {
	OnView(v View)
}

type ViewSinkFunc func(View)

func (f ViewSinkFunc) OnView(v View) { f(v) }

// View is everything the presentation layer shows.
type View struct {
	Mode            Mode
	Transcript      string
	IsRecording     bool
	IsLoading       bool
	Error           string
	AudioURL        string
	FileName        string
	Playing         bool
	SpeechSupported bool
}

type Deps struct {
	Media       MediaSource
	Recognizer  Recognizer
	Visualizer  Visualizer
	Client      Submitter
	Comments    CommentStore
	URLs        *upload.URLRegistry
	LoadElement ElementLoader
	Sink        ViewSink
}

type Options struct {
	Mode   Mode
	PostID int
	Policy upload.Policy
}

type Controller struct {
	deps Deps
	opts Options

	// opMu serializes user operations. It is never taken from device,
	// recognizer or element callbacks.
	opMu sync.Mutex

	mu        sync.Mutex
	view      View
	stream    *audio.Stream
	dispose   func()
	startedAt time.Time
	file      *upload.Candidate
	element   *audio.Element
	unlisten  []func()
}

func New(deps Deps, opts Options) *Controller {
	if deps.URLs == nil {
		deps.URLs = upload.NewURLRegistry()
	}
	if deps.LoadElement == nil {
		deps.LoadElement = DecodeElement
	}
	if opts.Policy.MaxSize == 0 {
		opts.Policy = upload.DefaultPolicy()
	}
	c := &Controller{deps: deps, opts: opts}
	c.view.Mode = opts.Mode
	c.view.SpeechSupported = deps.Recognizer != nil && deps.Recognizer.Supported()
	if deps.Recognizer != nil {
		deps.Recognizer.SetSink(recognizerSink{c})
	}
	return c
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// update applies fn to the view and publishes the result outside the lock.
func (c *Controller) update(fn func(v *View)) View {
	c.mu.Lock()
	fn(&c.view)
	v := c.view
	c.mu.Unlock()
	if c.deps.Sink != nil {
		c.deps.Sink.OnView(v)
	}
	return v
}

// StartRecording acquires a fresh microphone stream, starts recognition on
// it and points the visualizer at it. A loaded file is unloaded first. If
// recognition cannot start the stream is released again.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	cur := c.View()
	if cur.IsLoading {
		return ErrBusy
	}
	if cur.IsRecording {
		return nil
	}
	if c.deps.Recognizer == nil || !c.deps.Recognizer.Supported() {
		c.update(func(v *View) { v.Error = msgUnsupported })
		return transcriber.ErrUnsupportedFeature
	}

	c.unloadFile()
	c.update(func(v *View) { v.Error = "" })

	stream, err := c.deps.Media.Acquire(ctx)
	if err != nil {
		log.Errorf("controller: acquire microphone: %v", err)
		c.update(func(v *View) { v.Error = msgStartFailed })
		return err
	}
	if err := c.deps.Recognizer.Start(ctx, stream); err != nil {
		stream.Release()
		log.Errorf("controller: start recognizer: %v", err)
		// A session that failed while connecting has already reported its code.
		c.update(func(v *View) {
			if v.Error == "" {
				v.Error = msgStartFailed
			}
		})
		return err
	}

	var dispose func()
	if c.deps.Visualizer != nil {
		if dispose, err = c.deps.Visualizer.Attach(visualizer.Live(stream)); err != nil {
			log.Warnf("controller: visualizer: %v", err)
		}
	}

	c.mu.Lock()
	c.stream = stream
	c.dispose = dispose
	c.startedAt = time.Now()
	c.view.IsRecording = true
	c.view.Transcript = ""
	v := c.view
	c.mu.Unlock()
	if c.deps.Sink != nil {
		c.deps.Sink.OnView(v)
	}

	// An error delivered after Start returned but before IsRecording was
	// set found nothing to stop.
	if c.deps.Recognizer.State() != transcriber.Listening {
		c.stopRecording()
		return transcriber.ErrAborted
	}
	return nil
}

// StopRecording stops recognition, the visualizer loop and the stream
// together. Final text stays on screen; interim text is dropped.
func (c *Controller) StopRecording() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.stopRecording()
}

func (c *Controller) stopRecording() {
	if !c.endRecording() {
		return
	}
	c.update(func(v *View) { v.Transcript = c.deps.Recognizer.Transcript().Final })
}

// endRecording releases the recording resources if a recording is active.
// Safe to call from any goroutine without opMu.
func (c *Controller) endRecording() bool {
	c.mu.Lock()
	if !c.view.IsRecording {
		c.mu.Unlock()
		return false
	}
	c.view.IsRecording = false
	stream, dispose, started := c.stream, c.dispose, c.startedAt
	c.stream, c.dispose = nil, nil
	c.mu.Unlock()

	c.deps.Recognizer.Stop()
	if dispose != nil {
		dispose()
	}
	if stream != nil {
		stream.Release()
	}
	log.RecordingStop(time.Since(started), len(c.deps.Recognizer.Transcript().Final))
	return true
}

// SelectFile stops any recording, validates cand and makes it the current
// file. In comment mode the file is submitted immediately.
func (c *Controller) SelectFile(ctx context.Context, cand upload.Candidate) error {
	c.opMu.Lock()

	if c.View().IsLoading {
		c.opMu.Unlock()
		return ErrBusy
	}
	c.stopRecording()
	c.update(func(v *View) { v.Error = "" })

	if err := c.opts.Policy.Validate(cand); err != nil {
		msg := err.Error()
		var ve *upload.ValidationError
		if errors.As(err, &ve) {
			msg = ve.Message
		}
		c.update(func(v *View) { v.Error = msg })
		c.opMu.Unlock()
		return err
	}

	c.unloadFile()
	url := c.deps.URLs.Create(cand)

	el, err := c.deps.LoadElement(url, cand)
	if err != nil {
		// Still submittable; there is just nothing to play or draw.
		log.Warnf("controller: %s not playable: %v", cand.Name, err)
		el = nil
	}

	var dispose func()
	var unlisten []func()
	if el != nil {
		refresh := func() { c.update(func(v *View) { v.Playing = !el.Paused() }) }
		unlisten = []func(){
			el.On(audio.EventPlay, refresh),
			el.On(audio.EventPause, refresh),
			el.On(audio.EventEnded, refresh),
		}
		if c.deps.Visualizer != nil {
			if dispose, err = c.deps.Visualizer.Attach(visualizer.File(url, el)); err != nil {
				log.Warnf("controller: visualizer: %v", err)
			}
		}
	}

	c.mu.Lock()
	c.file = &cand
	c.element = el
	c.dispose = dispose
	c.unlisten = unlisten
	c.mu.Unlock()
	c.update(func(v *View) {
		v.AudioURL = url
		v.FileName = cand.Name
		v.Playing = false
	})

	if c.opts.Mode != ModeComment {
		c.opMu.Unlock()
		return nil
	}
	c.beginSubmit()
	c.opMu.Unlock()
	return c.finishSubmit(ctx, cand)
}

// unloadFile revokes the current object URL and tears down its playback
// and visualizer graph.
func (c *Controller) unloadFile() {
	c.mu.Lock()
	file, el, dispose, unlisten := c.file, c.element, c.dispose, c.unlisten
	url := c.view.AudioURL
	if file == nil {
		c.mu.Unlock()
		return
	}
	c.file, c.element, c.dispose, c.unlisten = nil, nil, nil, nil
	c.mu.Unlock()

	for _, fn := range unlisten {
		fn()
	}
	if dispose != nil {
		dispose()
	}
	if el != nil {
		el.Close()
	}
	c.deps.URLs.Revoke(url)
	c.update(func(v *View) {
		v.AudioURL = ""
		v.FileName = ""
		v.Playing = false
	})
}

// SubmitTranscription sends the current file to the transcription route.
// With no file loaded it does nothing.
func (c *Controller) SubmitTranscription(ctx context.Context) error {
	c.opMu.Lock()
	if c.View().IsLoading {
		c.opMu.Unlock()
		return ErrBusy
	}
	c.mu.Lock()
	file := c.file
	c.mu.Unlock()
	if file == nil {
		c.opMu.Unlock()
		return nil
	}
	c.beginSubmit()
	c.opMu.Unlock()
	return c.finishSubmit(ctx, *file)
}

func (c *Controller) beginSubmit() {
	c.update(func(v *View) {
		v.IsLoading = true
		v.Error = ""
		v.Transcript = ""
	})
}

// finishSubmit runs the request without holding opMu; IsLoading keeps
// other operations out meanwhile.
func (c *Controller) finishSubmit(ctx context.Context, cand upload.Candidate) error {
	text, err := c.deps.Client.Submit(ctx, cand)
	c.update(func(v *View) {
		v.IsLoading = false
		if err != nil {
			v.Error = submitMessage(err)
			return
		}
		v.Transcript = text
	})
	if err != nil {
		log.Warnf("controller: transcribe %s: %v", cand.Name, err)
	}
	return err
}

func submitMessage(err error) string {
	var se *transcriber.ServerError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return msgTranscribe
}

// SubmitComment posts the displayed transcript, interim text included, to
// the comment store. Recording stops and the recognizer starts over clean.
func (c *Controller) SubmitComment(ctx context.Context) (comments.Comment, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	cur := c.View()
	if cur.IsLoading {
		return comments.Comment{}, ErrBusy
	}
	text := cur.Transcript
	if strings.TrimSpace(text) == "" {
		return comments.Comment{}, ErrEmptyComment
	}

	cm, err := c.deps.Comments.Attach(ctx, c.opts.PostID, text)
	if err != nil {
		log.Errorf("controller: post comment: %v", err)
		c.update(func(v *View) { v.Error = msgCommentFailed })
		return comments.Comment{}, err
	}

	c.endRecording()
	if c.deps.Recognizer != nil {
		c.deps.Recognizer.Reset()
	}
	c.update(func(v *View) {
		v.Transcript = ""
		v.Error = ""
	})
	return cm, nil
}

// EditTranscript replaces the displayed text, for typing a comment by hand.
func (c *Controller) EditTranscript(text string) {
	c.update(func(v *View) { v.Transcript = text })
}

// TogglePlayback plays or pauses the loaded file.
func (c *Controller) TogglePlayback() error {
	c.mu.Lock()
	el, file := c.element, c.file
	c.mu.Unlock()
	if file == nil {
		return ErrNoFile
	}
	if el == nil {
		return audio.ErrUnsupportedCodec
	}
	if el.Paused() {
		return el.Play()
	}
	el.Pause()
	return nil
}

// Close releases everything the controller holds.
func (c *Controller) Close() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.endRecording()
	c.unloadFile()
	if c.deps.Visualizer != nil {
		c.deps.Visualizer.Close()
	}
}

// recognizerSink runs on the recognizer backend's goroutine.
type recognizerSink struct{ c *Controller }

func (s recognizerSink) OnTranscript(t transcriber.Transcript) {
	c := s.c
	c.mu.Lock()
	recording := c.view.IsRecording
	c.mu.Unlock()
	if !recording {
		return
	}
	c.update(func(v *View) {
		if v.IsRecording {
			v.Transcript = t.Text()
		}
	})
}

func (s recognizerSink) OnError(err *transcriber.RecognitionError) {
	c := s.c
	c.endRecording()
	c.update(func(v *View) {
		v.Error = msgRecognition + " " + err.Code
		v.Transcript = c.deps.Recognizer.Transcript().Final
	})
}
