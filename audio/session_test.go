package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestAcquireFreshDeviceEachTime(t *testing.T) {
	fc := NewFakeContext(nil, false)
	ms := NewMediaSession(fc, nil, CaptureConfig{})

	s1, err := ms.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s1.Release()
	s2, err := ms.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Release()

	if got := len(fc.Captures()); got != 2 {
		t.Fatalf("captures opened = %d, want 2", got)
	}
	if s1.ID() == s2.ID() {
		t.Error("streams share an id")
	}
}

func TestAcquireErrors(t *testing.T) {
	tests := []struct {
		name    string
		openErr error
		start   error
		want    error
	}{
		{"denied", errors.New("Access denied by user"), nil, ErrPermissionDenied},
		{"os permission", nil, errPermission{}, ErrPermissionDenied},
		{"no device", errors.New("no such entity"), nil, ErrDeviceUnavailable},
		{"start failed", nil, errors.New("device busy"), ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := NewFakeContext(nil, false)
			fc.OpenErr = tt.openErr
			fc.StartErr = tt.start
			_, err := NewMediaSession(fc, nil, CaptureConfig{}).Acquire(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

type errPermission struct{}

func (errPermission) Error() string { return "operation not permitted" }
func (errPermission) Is(target error) bool {
	return target.Error() == "permission denied"
}

func TestAcquireNilBackend(t *testing.T) {
	_, err := NewMediaSession(nil, nil, CaptureConfig{}).Acquire(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
}

func TestAcquireCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fc := NewFakeContext(nil, false)
	if _, err := NewMediaSession(fc, nil, CaptureConfig{}).Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(fc.Captures()) != 0 {
		t.Error("device opened for a cancelled acquire")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	fc := NewFakeContext(nil, false)
	s, err := NewMediaSession(fc, nil, CaptureConfig{}).Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !s.Live() {
		t.Fatal("new stream not live")
	}

	s.Release()
	s.Release()

	if s.Live() {
		t.Error("stream live after release")
	}
	for _, tr := range s.Tracks() {
		if tr.Live() {
			t.Errorf("track %q still live", tr.Label)
		}
	}
	if c := fc.Captures()[0]; !c.Closed() || c.Running() {
		t.Error("capture device not stopped and closed")
	}
}

func TestSubscribeFanOut(t *testing.T) {
	fc := NewFakeContext(nil, false)
	s, err := NewMediaSession(fc, nil, CaptureConfig{}).Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Release()

	var mu sync.Mutex
	var a, b int
	unsubA := s.Subscribe(func(pcm []byte) { mu.Lock(); a += len(pcm); mu.Unlock() })
	s.Subscribe(func(pcm []byte) { mu.Lock(); b += len(pcm); mu.Unlock() })

	dev := fc.Captures()[0]
	dev.Emit(make([]byte, 64))
	unsubA()
	dev.Emit(make([]byte, 64))

	mu.Lock()
	defer mu.Unlock()
	if a != 64 || b != 128 {
		t.Errorf("a=%d b=%d, want 64 and 128", a, b)
	}
}

func TestSubscribeAfterRelease(t *testing.T) {
	fc := NewFakeContext(nil, false)
	s, err := NewMediaSession(fc, nil, CaptureConfig{}).Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s.Release()

	called := false
	unsub := s.Subscribe(func([]byte) { called = true })
	unsub()
	fc.Captures()[0].Emit(make([]byte, 8))
	if called {
		t.Error("released stream delivered data")
	}
}

func TestPCMRoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 0.999, -1}
	out := PCMToFloat(FloatToPCM(in))
	for i := range in {
		if d := in[i] - out[i]; d > 1e-4 || d < -1e-4 {
			t.Errorf("sample %d: got %v, want %v", i, out[i], in[i])
		}
	}
	if got := FloatToPCM([]float32{2})[1]; got != 0x7f {
		t.Errorf("clamp high byte = %#x, want 0x7f", got)
	}
}
