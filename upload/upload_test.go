package upload

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		c    Candidate
		want error
	}{
		{"mp3 2MB", Candidate{MIMEType: "audio/mpeg", Size: 2 << 20}, nil},
		{"wav", Candidate{MIMEType: "audio/wav", Size: 1}, nil},
		{"m4a", Candidate{MIMEType: "audio/x-m4a", Size: 1}, nil},
		{"mp4", Candidate{MIMEType: "audio/mp4", Size: 1}, nil},
		{"exactly limit", Candidate{MIMEType: "audio/mpeg", Size: MaxSize}, nil},
		{"limit plus one", Candidate{MIMEType: "audio/mpeg", Size: MaxSize + 1}, ErrTooLarge},
		{"ogg", Candidate{MIMEType: "audio/ogg", Size: 1}, ErrInvalidType},
		{"flac", Candidate{MIMEType: "audio/flac", Size: 1}, ErrInvalidType},
		{"empty type", Candidate{Size: 1}, ErrInvalidType},
		{"type checked first", Candidate{MIMEType: "video/webm", Size: MaxSize * 2}, ErrInvalidType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.c)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Message == "" {
				t.Fatalf("expected ValidationError with message, got %T", err)
			}
		})
	}
}

func TestValidationMessages(t *testing.T) {
	err := Validate(Candidate{MIMEType: "text/plain"})
	if err.Error() != "Invalid file type. Please upload an audio file by MP3, WAV, or M4A." {
		t.Errorf("type message = %q", err)
	}
	err = Validate(Candidate{MIMEType: "audio/wav", Size: MaxSize + 1})
	if err.Error() != "File size exceeds the limit of 25MB. Please upload a smaller file." {
		t.Errorf("size message = %q", err)
	}
}

func TestTypeForName(t *testing.T) {
	for name, want := range map[string]string{
		"a.MP3":      "audio/mpeg",
		"b.wav":      "audio/wav",
		"c.m4a":      "audio/x-m4a",
		"d.mp4":      "audio/mp4",
		"e.txt":      "application/octet-stream",
		"no-ext":     "application/octet-stream",
		"dir/f.flac": "audio/flac",
	} {
		if got := TypeForName(name); got != want {
			t.Errorf("TypeForName(%q) = %q, want %q", name, got, want)
		}
	}
	if ExtForType("audio/mpeg; charset=binary") != ".mp3" || ExtForType("text/plain") != "" {
		t.Error("ExtForType mismatch")
	}
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memo.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := FromFile(path, MaxSize)
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "memo.wav" || c.MIMEType != "audio/wav" || c.Size != 4 || string(c.Data) != "RIFF" {
		t.Errorf("candidate = %+v", c)
	}

	big, err := FromFile(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if big.Data != nil {
		t.Error("oversized file was read")
	}
	if !errors.Is(Validate(Candidate{MIMEType: big.MIMEType, Size: big.Size + MaxSize}), ErrTooLarge) {
		t.Error("expected too large")
	}

	if _, err := FromFile(dir, MaxSize); err == nil {
		t.Error("expected error for directory")
	}
	if _, err := FromFile(filepath.Join(dir, "missing.mp3"), MaxSize); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestURLRegistry(t *testing.T) {
	r := NewURLRegistry()
	a := r.Create(Candidate{Name: "a.mp3"})
	b := r.Create(Candidate{Name: "b.mp3"})

	if a == b || !strings.HasPrefix(a, "blob:") {
		t.Fatalf("urls %q %q", a, b)
	}
	if c, ok := r.Lookup(a); !ok || c.Name != "a.mp3" {
		t.Fatalf("lookup a = %+v %v", c, ok)
	}
	if !r.Revoke(a) {
		t.Fatal("revoke a failed")
	}
	if r.Revoke(a) {
		t.Error("double revoke reported live url")
	}
	if _, ok := r.Lookup(a); ok {
		t.Error("revoked url still resolves")
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
}
