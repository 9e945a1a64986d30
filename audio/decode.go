package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/faiface/beep/mp3"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
)

// ErrUnsupportedCodec is returned for containers that can be uploaded but
// not decoded locally (m4a/mp4).
var ErrUnsupportedCodec = errors.New("codec not supported for local playback")

// PCM is decoded mono audio.
type PCM struct {
	Samples    []float32
	SampleRate int
}

func (p *PCM) Duration() float64 {
	if p.SampleRate == 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}

func DecodeFile(path string) (*PCM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(path, data)
}

// Decode picks a decoder from the file extension of name.
func Decode(name string, data []byte) (*PCM, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		return decodeWAV(data)
	case ".flac":
		return decodeFLAC(data)
	case ".mp3":
		return decodeMP3(data)
	case ".m4a", ".mp4":
		return nil, ErrUnsupportedCodec
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, filepath.Ext(name))
}

func decodeWAV(data []byte) (*PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("wav: invalid file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav: %w", err)
	}
	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	scale := float32(int64(1) << (dec.BitDepth - 1))
	out := make([]float32, len(buf.Data)/channels)
	for i := range out {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += float32(buf.Data[i*channels+ch]) / scale
		}
		out[i] = sum / float32(channels)
	}
	return &PCM{Samples: out, SampleRate: buf.Format.SampleRate}, nil
}

func decodeFLAC(data []byte) (*PCM, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("flac: %w", err)
	}
	defer stream.Close()

	scale := float32(int64(1) << (stream.Info.BitsPerSample - 1))
	var out []float32
	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("flac: %w", err)
		}
		channels := len(frame.Subframes)
		n := len(frame.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			var sum float32
			for _, sub := range frame.Subframes {
				sum += float32(sub.Samples[i]) / scale
			}
			out = append(out, sum/float32(channels))
		}
	}
	return &PCM{Samples: out, SampleRate: int(stream.Info.SampleRate)}, nil
}

func decodeMP3(data []byte) (*PCM, error) {
	streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}
	defer streamer.Close()

	var out []float32
	buf := make([][2]float64, 4096)
	for {
		n, ok := streamer.Stream(buf)
		for _, s := range buf[:n] {
			out = append(out, float32((s[0]+s[1])/2))
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}
	return &PCM{Samples: out, SampleRate: int(format.SampleRate)}, nil
}

// Resample converts between sample rates with linear interpolation.
func Resample(in []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j+1 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}
