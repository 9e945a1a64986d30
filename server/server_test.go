package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"earshot/log"
	"earshot/transcriber"
)

type recordingRemover struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (r *recordingRemover) remove(path string) error {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
	if err := os.Remove(path); err != nil {
		return err
	}
	return r.err
}

func (r *recordingRemover) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func newTestServer(t *testing.T, engine transcriber.Engine) (*Server, *recordingRemover, string) {
	t.Helper()
	dir := t.TempDir()
	rm := &recordingRemover{}
	return New(engine, Options{TempDir: dir, Remove: rm.remove}), rm, dir
}

func uploadRequest(t *testing.T, field, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if field != "" {
		part, err := w.CreateFormFile(field, name)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(data)
	} else {
		w.WriteField("note", "no file here")
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("body %q: %v", raw, err)
	}
	return out
}

func TestTranscribeSuccess(t *testing.T) {
	engine := transcriber.NewFakeEngine("hello from the engine", nil)
	srv, rm, dir := newTestServer(t, engine)

	data := bytes.Repeat([]byte{0xAB}, 2048)
	resp, err := srv.App().Test(uploadRequest(t, "file", "memo.mp3", data), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id")
	}
	if got := decode(t, resp)["text"]; got != "hello from the engine" {
		t.Errorf("text = %v", got)
	}

	paths := engine.Paths()
	if len(paths) != 1 {
		t.Fatalf("engine calls = %d", len(paths))
	}
	if engine.Sizes()[0] != int64(len(data)) {
		t.Errorf("engine saw %d bytes, want %d", engine.Sizes()[0], len(data))
	}
	if filepath.Dir(paths[0]) != dir {
		t.Errorf("temp file %s not under %s", paths[0], dir)
	}
	if !regexp.MustCompile(`^upload-\d+-[0-9a-z]+\.mp3$`).MatchString(filepath.Base(paths[0])) {
		t.Errorf("temp name = %s", filepath.Base(paths[0]))
	}
	if calls := rm.calls(); len(calls) != 1 || calls[0] != paths[0] {
		t.Errorf("remove calls = %v", calls)
	}
	if _, err := os.Stat(paths[0]); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp file still present: %v", err)
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	engine := transcriber.NewFakeEngine("unused", nil)
	srv, rm, _ := newTestServer(t, engine)

	resp, err := srv.App().Test(uploadRequest(t, "", "", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := decode(t, resp)["error"]; got != "No file provided" {
		t.Errorf("error = %v", got)
	}
	if len(engine.Paths()) != 0 || len(rm.calls()) != 0 {
		t.Error("missing file reached the engine or cleanup")
	}
}

func TestTranscribeWrongField(t *testing.T) {
	srv, _, _ := newTestServer(t, transcriber.NewFakeEngine("unused", nil))
	resp, err := srv.App().Test(uploadRequest(t, "audio", "memo.wav", []byte("x")), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestTranscribeEngineFailure(t *testing.T) {
	engine := transcriber.NewFakeEngine("", errors.New("model overloaded"))
	var existed bool
	engine.Hook = func(path string) {
		_, err := os.Stat(path)
		existed = err == nil
	}
	srv, rm, _ := newTestServer(t, engine)

	resp, err := srv.App().Test(uploadRequest(t, "file", "memo.wav", []byte("RIFF")), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode(t, resp)
	inner, ok := body["error"].(map[string]any)
	if !ok || inner["message"] != "model overloaded" {
		t.Fatalf("body = %v", body)
	}
	if !existed {
		t.Error("temp file missing while the engine ran")
	}
	paths := engine.Paths()
	if calls := rm.calls(); len(calls) != 1 || calls[0] != paths[0] {
		t.Errorf("remove calls = %v, want exactly %s", calls, paths[0])
	}
	if _, err := os.Stat(paths[0]); !errors.Is(err, os.ErrNotExist) {
		t.Error("temp file left behind after engine failure")
	}
}

func TestCleanupFailureDoesNotChangeResponse(t *testing.T) {
	var buf bytes.Buffer
	log.InitWriter(&buf)
	t.Cleanup(log.Close)

	engine := transcriber.NewFakeEngine("ok", nil)
	srv, rm, _ := newTestServer(t, engine)
	rm.err = errors.New("device busy")

	resp, err := srv.App().Test(uploadRequest(t, "file", "a.m4a", []byte("m4a")), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(rm.calls()) != 1 {
		t.Errorf("remove calls = %d", len(rm.calls()))
	}
	out := buf.String()
	if !strings.Contains(out, "cleanup_error") || !strings.Contains(out, "device busy") {
		t.Errorf("log output missing cleanup failure:\n%s", out)
	}
}

func TestTempNamesUnique(t *testing.T) {
	srv, _, dir := newTestServer(t, transcriber.NewFakeEngine("", nil))
	seen := map[string]bool{}
	for range 100 {
		name := srv.tempName(".wav")
		if seen[name] {
			t.Fatalf("duplicate temp name %s", name)
		}
		seen[name] = true
		if !strings.HasPrefix(name, filepath.Join(dir, "upload-")) || !strings.HasSuffix(name, ".wav") {
			t.Fatalf("temp name = %s", name)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t, transcriber.NewFakeEngine("hi", nil))
	if _, err := srv.App().Test(uploadRequest(t, "file", "a.wav", []byte("x")), -1); err != nil {
		t.Fatal(err)
	}

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if got := decode(t, resp)["status"]; got != "ok" {
		t.Errorf("healthz status = %v", got)
	}

	resp, err = srv.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(raw), `earshot_transcribe_requests_total{status="succeeded"} 1`) {
		t.Errorf("metrics output:\n%s", raw)
	}
}
