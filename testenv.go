package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"earshot/audio"
	"earshot/beep"
	"earshot/config"
	"earshot/controller"
	"earshot/log"
)

// printSink writes one line per view change so scripted runs can be
// checked from stdout.
type printSink struct {
	mu   sync.Mutex
	w    io.Writer
	last controller.View
}

func (s *printSink) OnView(v controller.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v == s.last {
		return
	}
	s.last = v
	fmt.Fprintf(s.w, "VIEW recording=%t loading=%t file=%q error=%q transcript=%q\n",
		v.IsRecording, v.IsLoading, v.FileName, v.Error, v.Transcript)
}

// runTestMode drives the controller from stdin commands with the
// microphone replaced by wavPath:
//
//	RECORD | STOP | LOAD <path> | SUBMIT | COMMENT | EDIT <text> | PLAY
//	WAIT_AUDIO_DONE | SLEEP <ms> | PRINT | QUIT
func runTestMode(cfg config.Config, opts controller.Options, wavPath string) int {
	fake, err := audio.NewFakeContextFromFile(wavPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}

	ctx := context.Background()
	cues := beep.New(fake)
	cues.Disable()
	sink := newCueSink(&printSink{w: os.Stdout}, cues)
	a, err := newApp(ctx, cfg, fake, nil, opts, newBackend(cfg.Recognizer), sink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()
	log.SessionStart(opts.Mode.String(), a.recName)

	report := func(cmd string, err error) {
		if err != nil {
			log.Warnf("test mode: %s: %v", cmd, err)
			fmt.Printf("ERR %s: %v\n", cmd, err)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "":
		case "RECORD":
			report(cmd, a.ctrl.StartRecording(ctx))
		case "STOP":
			a.ctrl.StopRecording()
		case "LOAD":
			report(cmd, a.loadFile(ctx, arg, cfg.Upload.MaxBytes))
		case "SUBMIT":
			report(cmd, a.ctrl.SubmitTranscription(ctx))
		case "COMMENT":
			cm, err := a.ctrl.SubmitComment(ctx)
			report(cmd, err)
			if err == nil {
				fmt.Printf("COMMENT id=%d post=%d text=%q\n", cm.ID, cm.PostID, cm.Text)
			}
		case "EDIT":
			a.ctrl.EditTranscript(arg)
		case "PLAY":
			report(cmd, a.ctrl.TogglePlayback())
		case "WAIT_AUDIO_DONE":
			if caps := fake.Captures(); len(caps) > 0 {
				if done := caps[len(caps)-1].AudioDone(); done != nil {
					<-done
				}
			}
		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case "PRINT":
			v := a.ctrl.View()
			fmt.Printf("STATE recording=%t loading=%t file=%q error=%q transcript=%q\n",
				v.IsRecording, v.IsLoading, v.FileName, v.Error, v.Transcript)
		case "QUIT":
			return 0
		default:
			fmt.Printf("ERR unknown command %q\n", cmd)
		}
	}
	return 0
}
