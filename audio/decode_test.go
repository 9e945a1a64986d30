package audio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeWAV(t *testing.T, path string, rate, channels int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDecodeWAVStereoDownmix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	writeWAV(t, path, 22050, 2, []int{16384, 0, -16384, -16384, 0, 32767})

	pcm, err := DecodeFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if pcm.SampleRate != 22050 {
		t.Errorf("rate = %d, want 22050", pcm.SampleRate)
	}
	want := []float32{0.25, -0.5, 0.5}
	if len(pcm.Samples) != len(want) {
		t.Fatalf("samples = %v, want %v", pcm.Samples, want)
	}
	for i := range want {
		if d := pcm.Samples[i] - want[i]; d > 1e-3 || d < -1e-3 {
			t.Errorf("sample %d = %v, want %v", i, pcm.Samples[i], want[i])
		}
	}
}

func TestDecodeUnsupported(t *testing.T) {
	for _, name := range []string{"voice.m4a", "voice.mp4", "voice.ogg"} {
		if _, err := Decode(name, []byte("data")); !errors.Is(err, ErrUnsupportedCodec) {
			t.Errorf("%s: err = %v, want ErrUnsupportedCodec", name, err)
		}
	}
}

func TestDecodeCorrupt(t *testing.T) {
	for _, name := range []string{"x.wav", "x.flac", "x.mp3"} {
		if _, err := Decode(name, []byte("not audio at all")); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestResample(t *testing.T) {
	in := []float32{0, 1, 2, 3}
	out := Resample(in, 4, 8)
	if len(out) != 8 {
		t.Fatalf("len = %d, want 8", len(out))
	}
	if out[1] != 0.5 || out[2] != 1 {
		t.Errorf("out = %v", out)
	}
	if same := Resample(in, 16000, 16000); &same[0] != &in[0] {
		t.Error("equal rates should return input")
	}
}

func TestNewFakeContextFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mic.wav")
	writeWAV(t, path, 8000, 1, make([]int, 800))

	fc, err := NewFakeContextFromFile(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(fc.pcm); got != 1600*bytesPerSample {
		t.Errorf("pcm bytes = %d, want %d", got, 1600*bytesPerSample)
	}
}
