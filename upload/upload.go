// Package upload checks candidate audio files against the type and size
// policy and tracks the object URLs handed to the player.
package upload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const MaxSize int64 = 25 << 20

var AllowedTypes = []string{"audio/mpeg", "audio/wav", "audio/x-m4a", "audio/mp4"}

var (
	ErrInvalidType = errors.New("invalid file type")
	ErrTooLarge    = errors.New("file too large")
)

// ValidationError carries the message shown to the user.
type ValidationError struct {
	Err     error
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Unwrap() error { return e.Err }

type Candidate struct {
	Name     string
	MIMEType string
	Size     int64
	Data     []byte
}

func (c Candidate) Ext() string { return strings.ToLower(filepath.Ext(c.Name)) }

// Policy is the allow-list and size limit applied by Validate.
type Policy struct {
	AllowedTypes []string
	MaxSize      int64
}

func DefaultPolicy() Policy {
	return Policy{AllowedTypes: AllowedTypes, MaxSize: MaxSize}
}

func (p Policy) Validate(c Candidate) error {
	if !slices.Contains(p.AllowedTypes, c.MIMEType) {
		return &ValidationError{
			Err:     ErrInvalidType,
			Message: "Invalid file type. Please upload an audio file by MP3, WAV, or M4A.",
		}
	}
	if c.Size > p.MaxSize {
		return &ValidationError{
			Err:     ErrTooLarge,
			Message: fmt.Sprintf("File size exceeds the limit of %dMB. Please upload a smaller file.", p.MaxSize>>20),
		}
	}
	return nil
}

// Validate applies the default policy.
func Validate(c Candidate) error { return DefaultPolicy().Validate(c) }

var extTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/x-m4a",
	".mp4":  "audio/mp4",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".webm": "audio/webm",
}

// TypeForName derives a MIME type from the file extension, the way a
// browser fills in File.type.
func TypeForName(name string) string {
	if t, ok := extTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return "application/octet-stream"
}

// ExtForType maps an allow-listed MIME type back to its extension.
func ExtForType(mimeType string) string {
	base := strings.TrimSpace(strings.Split(strings.ToLower(mimeType), ";")[0])
	switch base {
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/x-m4a":
		return ".m4a"
	case "audio/mp4":
		return ".mp4"
	}
	return ""
}

// FromFile stats path and reads it only when the size is within limit, so
// an oversized file is rejected without loading it.
func FromFile(path string, limit int64) (Candidate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Candidate{}, err
	}
	if info.IsDir() {
		return Candidate{}, fmt.Errorf("%s is a directory", path)
	}
	c := Candidate{
		Name:     filepath.Base(path),
		MIMEType: TypeForName(path),
		Size:     info.Size(),
	}
	if c.Size > limit {
		return c, nil
	}
	c.Data, err = os.ReadFile(path)
	if err != nil {
		return Candidate{}, err
	}
	return c, nil
}
