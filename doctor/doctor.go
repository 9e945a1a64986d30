// Package doctor runs the startup diagnostics behind `earshot -doctor`.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"earshot/audio"
	"earshot/clipboard"
	"earshot/comments"
	"earshot/config"
)

type Options struct {
	Config config.Config
	// Audio is the capture backend; nil skips the microphone check.
	Audio  audio.Context
	Device *audio.DeviceInfo
	// Listen is how long the microphone check records. Defaults to 2s.
	Listen time.Duration
	// HTTP is used for the route health check. Defaults to a 5s client.
	HTTP *http.Client
	// Clipboard enables the clipboard round trip, which overwrites and
	// then restores the current contents.
	Clipboard bool
}

type check struct {
	name string
	run  func(w io.Writer, o Options) result
}

type result int

const (
	pass result = iota
	warn
	fail
	skip
)

// silenceRMS is the level below which captured audio counts as silent.
const silenceRMS = 0.002

// Run executes every check and returns an exit code (0=no failures, 1=any fail).
func Run(w io.Writer, o Options) int {
	if o.Listen <= 0 {
		o.Listen = 2 * time.Second
	}
	if o.HTTP == nil {
		o.HTTP = &http.Client{Timeout: 5 * time.Second}
	}

	fmt.Fprintln(w, "earshot doctor - system diagnostics")
	fmt.Fprintln(w, "===================================")

	checks := []check{
		{"Configuration", checkConfig},
		{"Microphone", checkMicrophone},
		{"Transcription route", checkRoute},
		{"Live recognition", checkRecognizer},
		{"Comment store", checkComments},
		{"Clipboard", checkClipboard},
	}

	failed := 0
	for i, c := range checks {
		fmt.Fprintf(w, "\n[%d/%d] %s\n", i+1, len(checks), c.name)
		if c.run(w, o) == fail {
			failed++
		}
	}

	fmt.Fprintln(w)
	if failed == 0 {
		fmt.Fprintln(w, "All checks passed!")
		return 0
	}
	fmt.Fprintf(w, "%d check(s) failed. See details above.\n", failed)
	return 1
}

func checkConfig(w io.Writer, o Options) result {
	cfg := o.Config
	fmt.Fprintf(w, "  endpoint:   %s\n", cfg.Client.Endpoint)
	fmt.Fprintf(w, "  recognizer: %s (%s)\n", cfg.Recognizer.Provider, cfg.Recognizer.Language)
	fmt.Fprintf(w, "  comments:   %s\n", cfg.Comments.RetentionMode)
	fmt.Fprintln(w, "  PASS: configuration loaded")
	return pass
}

func checkMicrophone(w io.Writer, o Options) result {
	if o.Audio == nil {
		fmt.Fprintln(w, "  SKIP: no audio backend")
		return skip
	}
	media := audio.NewMediaSession(o.Audio, o.Device, audio.CaptureConfig{
		SampleRate: uint32(o.Config.Capture.SampleRate),
		Channels:   uint32(o.Config.Capture.Channels),
	})
	fmt.Fprintf(w, "  device: %s\n", media.DeviceName())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := media.Acquire(ctx)
	if err != nil {
		fmt.Fprintf(w, "  FAIL: %v\n", err)
		return fail
	}
	defer stream.Release()

	var mu sync.Mutex
	var samples int
	var peak float64
	unsubscribe := stream.Subscribe(func(pcm []byte) {
		f := audio.PCMToFloat(pcm)
		if len(f) == 0 {
			return
		}
		var sum float64
		for _, s := range f {
			sum += float64(s) * float64(s)
		}
		rms := math.Sqrt(sum / float64(len(f)))
		mu.Lock()
		samples += len(f)
		peak = max(peak, rms)
		mu.Unlock()
	})
	time.Sleep(o.Listen)
	unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	if samples == 0 {
		fmt.Fprintln(w, "  FAIL: no audio captured")
		return fail
	}
	got := float64(samples) / float64(stream.SampleRate())
	fmt.Fprintf(w, "  captured %.1fs, peak level %.3f\n", got, peak)
	if peak < silenceRMS {
		fmt.Fprintln(w, "  WARN: input is silent; check the device or its mute switch")
		return warn
	}
	fmt.Fprintln(w, "  PASS: microphone delivers audio")
	return pass
}

func healthURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint %q is not an absolute URL", endpoint)
	}
	u.Path = "/healthz"
	u.RawQuery = ""
	return u.String(), nil
}

func checkRoute(w io.Writer, o Options) result {
	target, err := healthURL(o.Config.Client.Endpoint)
	if err != nil {
		fmt.Fprintf(w, "  FAIL: %v\n", err)
		return fail
	}
	resp, err := o.HTTP.Get(target)
	if err != nil {
		fmt.Fprintf(w, "  FAIL: %v\n", err)
		fmt.Fprintln(w, "  Start the route with: earshot serve")
		return fail
	}
	defer resp.Body.Close()

	var health struct {
		Status string `json:"status"`
		Engine string `json:"engine"`
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(w, "  FAIL: %s returned %d\n", target, resp.StatusCode)
		return fail
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil || health.Status != "ok" {
		fmt.Fprintf(w, "  FAIL: unexpected health response from %s\n", target)
		return fail
	}
	fmt.Fprintf(w, "  PASS: route up (engine %s)\n", health.Engine)
	return pass
}

func checkRecognizer(w io.Writer, o Options) result {
	rc := o.Config.Recognizer
	switch {
	case rc.Provider == "none":
		fmt.Fprintln(w, "  SKIP: disabled in config; comments can still be typed")
		return skip
	case rc.APIKey == "":
		fmt.Fprintln(w, "  WARN: DEEPGRAM_API_KEY not set; recording is disabled")
		return warn
	}
	fmt.Fprintf(w, "  PASS: %s %s ready\n", rc.Provider, rc.Model)
	return pass
}

func checkComments(w io.Writer, o Options) result {
	store, err := comments.Open(context.Background(), o.Config.Comments)
	if err != nil {
		fmt.Fprintf(w, "  FAIL: %v\n", err)
		return fail
	}
	defer store.Close()
	if store.Persistent() {
		fmt.Fprintf(w, "  PASS: %s opened\n", o.Config.Comments.Path)
	} else {
		fmt.Fprintln(w, "  PASS: in-memory store (comments end with the session)")
	}
	return pass
}

func checkClipboard(w io.Writer, o Options) result {
	if !o.Clipboard {
		fmt.Fprintln(w, "  SKIP: not requested")
		return skip
	}
	if !clipboard.Available() {
		fmt.Fprintln(w, "  WARN: no clipboard utility; copy (y) will not work")
		return warn
	}

	prev, _ := clipboard.Read()
	defer clipboard.Copy(prev)

	sentinel := fmt.Sprintf("earshot-doctor-%d", time.Now().UnixNano())
	if err := clipboard.Copy(sentinel); err != nil {
		fmt.Fprintf(w, "  FAIL: copy failed: %v\n", err)
		return fail
	}
	got, err := clipboard.Read()
	if err != nil || got != sentinel {
		fmt.Fprintf(w, "  FAIL: read back %q, want %q\n", got, sentinel)
		return fail
	}
	fmt.Fprintln(w, "  PASS: clipboard round trip")
	return pass
}
