package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog  zerolog.Logger
	diagFile *os.File
	logMu    sync.Mutex
	logReady bool
	pid      int
	dir      string
	level    = zerolog.InfoLevel
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: EARSHOT_LOG_PATH environment variable
	if envPath := os.Getenv("EARSHOT_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func getDefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Logs", "earshot"), nil
	case "windows":
		base := os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Local")
		}
		return filepath.Join(base, "earshot", "logs"), nil
	}
	state := os.Getenv("XDG_STATE_HOME")
	if state == "" {
		state = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(state, "earshot", "logs"), nil
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

// SetLevel accepts zerolog level names ("debug", "info", "warn", "error").
// Unknown names leave the level unchanged.
func SetLevel(name string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || lvl == zerolog.NoLevel {
		return
	}
	logMu.Lock()
	level = lvl
	if logReady {
		diagLog = diagLog.Level(lvl)
	}
	logMu.Unlock()
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

// Init opens diagnostics_log.txt in the log directory. The TUI owns the
// terminal, so diagnostics never go to stdout in that mode.
func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	f, err := os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	diagFile = f

	setup(zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	})
	return nil
}

// InitWriter logs to w instead of a file. Used by the server and by tests.
func InitWriter(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	pid = os.Getpid()
	setup(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, NoColor: true})
}

func setup(w zerolog.ConsoleWriter) {
	diagLog = zerolog.New(w).Level(level).With().Timestamp().Int("pid", pid).Logger()
	logReady = true
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	logReady = false
}

func Debugf(format string, args ...any) {
	if logReady {
		diagLog.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func RecordingStart(device string) {
	if !logReady {
		return
	}
	diagLog.Info().Str("device", device).Msg("recording_start")
}

func RecordingStop(dur time.Duration, finalChars int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Float64("duration_s", dur.Seconds()).
		Int("final_chars", finalChars).
		Msg("recording_stop")
}

type JobData struct {
	TempPath   string
	Status     string
	SizeKB     float64
	EngineMs   float64
	TotalMs    float64
	ErrMessage string
}

func TranscriptionJob(j JobData) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if j.ErrMessage != "" {
		ev = diagLog.Error().Str("error", j.ErrMessage)
	}
	ev.Str("temp_path", j.TempPath).
		Str("status", j.Status).
		Float64("size_kb", j.SizeKB).
		Float64("engine_ms", j.EngineMs).
		Float64("total_ms", j.TotalMs).
		Msg("transcription_job")
}

// SubmissionData is one client upload to the transcription route.
type SubmissionData struct {
	File       string
	SizeKB     float64
	Status     int
	RequestID  string
	Reused     bool
	ConnectMs  float64
	UploadMs   float64
	TTFBMs     float64
	TotalMs    float64
	ErrMessage string
}

func Submission(s SubmissionData) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if s.ErrMessage != "" {
		ev = diagLog.Error().Str("error", s.ErrMessage)
	}
	ev.Str("file", s.File).
		Float64("size_kb", s.SizeKB).
		Int("status", s.Status).
		Str("request_id", s.RequestID).
		Bool("conn_reused", s.Reused).
		Float64("connect_ms", s.ConnectMs).
		Float64("upload_ms", s.UploadMs).
		Float64("ttfb_ms", s.TTFBMs).
		Float64("total_ms", s.TotalMs).
		Msg("submission")
}

func CleanupFailed(path string, err error) {
	if !logReady {
		return
	}
	diagLog.Error().Str("temp_path", path).Err(err).Msg("cleanup_error")
}

func SessionStart(mode, recognizer string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("mode", mode).
		Str("recognizer", recognizer).
		Msg("session_start")
}

func SessionEnd(comments int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("comments", comments).
		Msg("session_end")
}
