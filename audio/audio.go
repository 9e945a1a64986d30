package audio

import (
	"encoding/binary"
	"strings"
)

const (
	DefaultSampleRate = 16000
	bytesPerSample    = 2 // 16-bit mono
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DataCallback receives little-endian 16-bit PCM.
type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	NewPlayback(sampleRate int) (PlaybackDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
}

// PlaybackDevice plays mono float32 samples. Write never blocks; samples
// beyond the device's buffer are dropped.
type PlaybackDevice interface {
	Start() error
	Write(samples []float32)
	Close()
}

// PCMToFloat converts little-endian 16-bit PCM to samples in [-1, 1).
func PCMToFloat(data []byte) []float32 {
	out := make([]float32, len(data)/bytesPerSample)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(data[i*bytesPerSample:]))
		out[i] = float32(s) / 32768
	}
	return out
}

// FloatToPCM is the inverse of PCMToFloat, clamping out-of-range samples.
func FloatToPCM(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		v := int32(s * 32768)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(int16(v)))
	}
	return out
}

// sampleQueue is a bounded FIFO shared by the playback backends.
type sampleQueue struct {
	buf []float32
	max int
}

func (q *sampleQueue) push(s []float32) {
	q.buf = append(q.buf, s...)
	if over := len(q.buf) - q.max; over > 0 {
		q.buf = q.buf[over:]
	}
}

// pop fills dst, padding with silence when the queue runs dry.
func (q *sampleQueue) pop(dst []float32) {
	n := copy(dst, q.buf)
	q.buf = q.buf[n:]
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}
