package transcriber

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"earshot/upload"
)

func TestClientSubmitSuccess(t *testing.T) {
	var gotName, gotType string
	var gotSize int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, "bad", 400)
			return
		}
		data, _ := io.ReadAll(f)
		gotName, gotType, gotSize = hdr.Filename, hdr.Header.Get("Content-Type"), len(data)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"hello there"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	text, err := c.Submit(context.Background(), upload.Candidate{
		Name: "memo.mp3", MIMEType: "audio/mpeg", Size: 3, Data: []byte{1, 2, 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello there" {
		t.Errorf("text = %q", text)
	}
	if gotName != "memo.mp3" || gotType != "audio/mpeg" || gotSize != 3 {
		t.Errorf("server saw %q %q %d", gotName, gotType, gotSize)
	}
}

func TestClientSubmitErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"nested message", 500, `{"error":{"message":"engine exploded"}}`, "engine exploded"},
		{"string error", 400, `{"error":"No file provided"}`, "No file provided"},
		{"empty message", 500, `{"error":{"message":""}}`, "Failed to transcribe audio"},
		{"not json", 502, `<html>bad gateway</html>`, "Failed to transcribe audio"},
		{"no error field", 500, `{}`, "Failed to transcribe audio"},
		{"ok but not json", 200, `plain`, "Failed to transcribe audio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second).Submit(context.Background(), upload.Candidate{Name: "a.wav", MIMEType: "audio/wav"})
			var se *ServerError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want ServerError", err)
			}
			if se.Message != tt.want {
				t.Errorf("message = %q, want %q", se.Message, tt.want)
			}
		})
	}
}

func TestClientNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).Submit(context.Background(), upload.Candidate{Name: "a.wav"})
	var se *ServerError
	if !errors.As(err, &se) || se.Err == nil {
		t.Fatalf("err = %v, want ServerError wrapping the cause", err)
	}
}

func TestClientCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(srv.URL, 5*time.Second).Submit(ctx, upload.Candidate{Name: "a.wav"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
