package main

import (
	"sync"

	"earshot/beep"
	"earshot/controller"
)

// displaySink forwards controller views to the terminal UI. Views arrive
// from controller goroutines, never from inside Update.
type displaySink struct{}

func (displaySink) OnView(v controller.View) { tuiSend(ViewMsg{View: v}) }

// cueSink plays a beep on recording edges and on new errors, then passes
// the view on.
type cueSink struct {
	next   controller.ViewSink
	player *beep.Player

	mu        sync.Mutex
	recording bool
	lastErr   string
}

func newCueSink(next controller.ViewSink, player *beep.Player) *cueSink {
	return &cueSink{next: next, player: player}
}

func (s *cueSink) OnView(v controller.View) {
	s.mu.Lock()
	wasRecording, lastErr := s.recording, s.lastErr
	s.recording, s.lastErr = v.IsRecording, v.Error
	s.mu.Unlock()

	switch {
	case v.Error != "" && v.Error != lastErr:
		s.player.PlayError()
	case v.IsRecording && !wasRecording:
		s.player.PlayStart()
	case !v.IsRecording && wasRecording:
		s.player.PlayEnd()
	}
	s.next.OnView(v)
}
