package audio

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func resetShared(t *testing.T) {
	t.Helper()
	sharedMu.Lock()
	shared = nil
	sharedBackend = nil
	sharedRate = DefaultSampleRate
	sharedMu.Unlock()
}

func TestSharedLazyAndUnique(t *testing.T) {
	resetShared(t)
	t.Cleanup(func() { resetShared(t) })

	if IsRunning() {
		t.Fatal("running before first use")
	}
	a := Shared()
	b := Shared()
	if a != b {
		t.Fatal("Shared returned two engines")
	}
	if !IsRunning() {
		t.Fatal("shared engine not running")
	}
}

func TestSharedResumesSuspended(t *testing.T) {
	resetShared(t)
	t.Cleanup(func() { resetShared(t) })

	e := Shared()
	e.Suspend()
	if IsRunning() {
		t.Fatal("suspended engine reported running")
	}
	if Shared() != e || e.State() != EngineRunning {
		t.Fatalf("state = %v, want running on same engine", e.State())
	}
}

func TestCloseSharedIdempotent(t *testing.T) {
	resetShared(t)
	t.Cleanup(func() { resetShared(t) })

	if err := CloseShared(); err != nil {
		t.Fatalf("close before use: %v", err)
	}
	e := Shared()
	if err := CloseShared(); err != nil {
		t.Fatal(err)
	}
	if err := CloseShared(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if e.State() != EngineClosed {
		t.Errorf("state = %v, want closed", e.State())
	}
	if Shared() == e {
		t.Error("closed engine handed out again")
	}
}

func TestCloseSharedRefusesWhileAttached(t *testing.T) {
	resetShared(t)
	t.Cleanup(func() { resetShared(t) })

	fc := NewFakeContext(nil, false)
	s, err := NewMediaSession(fc, nil, CaptureConfig{}).Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Release()

	e := Shared()
	src := e.NewStreamSource(s)
	if err := src.Connect(e.NewAnalyser(256)); err != nil {
		t.Fatal(err)
	}
	if err := CloseShared(); !errors.Is(err, ErrGraphsAttached) {
		t.Fatalf("err = %v, want ErrGraphsAttached", err)
	}

	src.Disconnect()
	src.Disconnect()
	if e.Attached() != 0 {
		t.Fatalf("attached = %d after disconnect", e.Attached())
	}
	if err := CloseShared(); err != nil {
		t.Fatal(err)
	}
}

func TestStreamSourceFeedsAnalyser(t *testing.T) {
	fc := NewFakeContext(nil, false)
	s, err := NewMediaSession(fc, nil, CaptureConfig{}).Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Release()

	e := NewEngine(fc, DefaultSampleRate)
	an := e.NewAnalyser(256)
	src := e.NewStreamSource(s)
	if err := src.Connect(an); err != nil {
		t.Fatal(err)
	}

	fc.Captures()[0].Emit(FloatToPCM(sine(256, 16, 0.8)))

	data := make([]uint8, an.FrequencyBinCount())
	for range 20 {
		an.ByteFrequencyData(data)
	}
	if data[16] == 0 {
		t.Fatal("no energy at the tone's bin")
	}

	src.Disconnect()
	fc.Captures()[0].Emit(FloatToPCM(sine(256, 40, 0.8)))
	an.ByteFrequencyData(data)
	if data[40] != 0 {
		t.Error("disconnected source still feeding analyser")
	}
}

func TestSuspendedEngineDropsSamples(t *testing.T) {
	e := NewEngine(nil, DefaultSampleRate)
	el := NewElement("blob:x", &PCM{Samples: sine(4096, 8, 0.5), SampleRate: 48000})
	an := e.NewAnalyser(256)
	src := e.NewElementSource(el)
	if err := src.Connect(an); err != nil {
		t.Fatal(err)
	}
	e.Suspend()

	if err := el.Play(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)
	el.Pause()

	data := make([]uint8, an.FrequencyBinCount())
	an.ByteFrequencyData(data)
	for i, v := range data {
		if v != 0 {
			t.Fatalf("bin %d = %d while suspended", i, v)
		}
	}
	src.Disconnect()
}

func TestDestinationOpensPlaybackLazily(t *testing.T) {
	fc := NewFakeContext(nil, false)
	e := NewEngine(fc, 22050)

	if len(fc.Playbacks()) != 0 {
		t.Fatal("playback opened before any sample")
	}
	e.Destination().Receive(make([]float32, 100))
	e.Destination().Receive(make([]float32, 50))

	pbs := fc.Playbacks()
	if len(pbs) != 1 || pbs[0].SampleRate != 22050 {
		t.Fatalf("playbacks = %+v", pbs)
	}
	if pbs[0].Written() != 150 {
		t.Errorf("written = %d, want 150", pbs[0].Written())
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if !pbs[0].Closed() {
		t.Error("playback not closed with engine")
	}
}

func sine(n, cyclesPerWindow int, amp float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amp * float32(math.Sin(2*math.Pi*float64(cyclesPerWindow)*float64(i)/256))
	}
	return out
}
