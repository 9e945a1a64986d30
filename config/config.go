package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Bind        string  `yaml:"bind"`
	Port        int     `yaml:"port"`
	TempDir     string  `yaml:"temp_dir"`
	Model       string  `yaml:"model"`
	Language    string  `yaml:"language"`
	Temperature float64 `yaml:"temperature"`
	EngineURL   string  `yaml:"engine_url"`
	APIKey      string  `yaml:"-"`
}

type ClientConfig struct {
	Endpoint  string `yaml:"endpoint"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type RecognizerConfig struct {
	Provider          string `yaml:"provider"` // deepgram, none
	Language          string `yaml:"language"`
	Model             string `yaml:"model"`
	NoSpeechTimeoutMS int    `yaml:"no_speech_timeout_ms"`
	APIKey            string `yaml:"-"`
}

type CaptureConfig struct {
	Device     string `yaml:"device"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type VisualizerConfig struct {
	FFTSize int `yaml:"fft_size"`
	FPS     int `yaml:"fps"`
	Width   int `yaml:"width"`
	Height  int `yaml:"height"`
}

type UploadConfig struct {
	MaxBytes     int64    `yaml:"max_bytes"`
	AllowedTypes []string `yaml:"allowed_types"`
}

type CommentsConfig struct {
	RetentionMode string `yaml:"retention_mode"` // ephemeral, persistent
	Path          string `yaml:"path"`
}

type LogConfig struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Client     ClientConfig     `yaml:"client"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Capture    CaptureConfig    `yaml:"capture"`
	Visualizer VisualizerConfig `yaml:"visualizer"`
	Upload     UploadConfig     `yaml:"upload"`
	Comments   CommentsConfig   `yaml:"comments"`
	Log        LogConfig        `yaml:"log"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind:      "127.0.0.1",
			Port:      3000,
			TempDir:   os.TempDir(),
			Model:     "whisper-large-v3",
			Language:  "en",
			EngineURL: "https://api.groq.com/openai/v1",
		},
		Client: ClientConfig{
			Endpoint:  "http://127.0.0.1:3000/api/transcribe",
			TimeoutMS: 120000,
		},
		Recognizer: RecognizerConfig{
			Provider:          "deepgram",
			Language:          "en-US",
			Model:             "nova-3",
			NoSpeechTimeoutMS: 8000,
		},
		Capture: CaptureConfig{
			SampleRate: 16000,
			Channels:   1,
		},
		Visualizer: VisualizerConfig{
			FFTSize: 256,
			FPS:     30,
			Width:   64,
			Height:  12,
		},
		Upload: UploadConfig{
			MaxBytes:     25 << 20,
			AllowedTypes: []string{"audio/mpeg", "audio/wav", "audio/x-m4a", "audio/mp4"},
		},
		Comments: CommentsConfig{
			RetentionMode: "ephemeral",
			Path:          filepath.Join(".", "data", "earshot-comments.db"),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path (optional), then a .env file in the
// working directory if present, then EARSHOT_* overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Server.Bind, "EARSHOT_SERVER_BIND")
	overrideInt(&cfg.Server.Port, "EARSHOT_SERVER_PORT")
	overrideString(&cfg.Server.TempDir, "EARSHOT_SERVER_TEMP_DIR")
	overrideString(&cfg.Server.Model, "EARSHOT_SERVER_MODEL")
	overrideString(&cfg.Server.Language, "EARSHOT_SERVER_LANGUAGE")
	overrideFloat(&cfg.Server.Temperature, "EARSHOT_SERVER_TEMPERATURE")
	overrideString(&cfg.Server.EngineURL, "EARSHOT_SERVER_ENGINE_URL")
	overrideString(&cfg.Server.APIKey, "GROQ_API_KEY")
	overrideString(&cfg.Client.Endpoint, "EARSHOT_CLIENT_ENDPOINT")
	overrideInt(&cfg.Client.TimeoutMS, "EARSHOT_CLIENT_TIMEOUT_MS")
	overrideString(&cfg.Recognizer.Provider, "EARSHOT_RECOGNIZER_PROVIDER")
	overrideString(&cfg.Recognizer.Language, "EARSHOT_RECOGNIZER_LANGUAGE")
	overrideString(&cfg.Recognizer.Model, "EARSHOT_RECOGNIZER_MODEL")
	overrideInt(&cfg.Recognizer.NoSpeechTimeoutMS, "EARSHOT_RECOGNIZER_NO_SPEECH_TIMEOUT_MS")
	overrideString(&cfg.Recognizer.APIKey, "DEEPGRAM_API_KEY")
	overrideString(&cfg.Capture.Device, "EARSHOT_CAPTURE_DEVICE")
	overrideInt(&cfg.Capture.SampleRate, "EARSHOT_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "EARSHOT_CAPTURE_CHANNELS")
	overrideInt(&cfg.Visualizer.FFTSize, "EARSHOT_VISUALIZER_FFT_SIZE")
	overrideInt(&cfg.Visualizer.FPS, "EARSHOT_VISUALIZER_FPS")
	overrideInt64(&cfg.Upload.MaxBytes, "EARSHOT_UPLOAD_MAX_BYTES")
	overrideStringSlice(&cfg.Upload.AllowedTypes, "EARSHOT_UPLOAD_ALLOWED_TYPES")
	overrideString(&cfg.Comments.RetentionMode, "EARSHOT_COMMENTS_RETENTION_MODE")
	overrideString(&cfg.Comments.Path, "EARSHOT_COMMENTS_PATH")
	overrideString(&cfg.Log.Path, "EARSHOT_LOG_PATH")
	overrideString(&cfg.Log.Level, "EARSHOT_LOG_LEVEL")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if cfg.Server.TempDir == "" {
		return errors.New("server.temp_dir must not be empty")
	}
	if cfg.Server.Model == "" {
		return errors.New("server.model must not be empty")
	}
	if cfg.Server.Temperature < 0 || cfg.Server.Temperature > 1 {
		return errors.New("server.temperature must be between 0 and 1")
	}
	if cfg.Client.Endpoint == "" {
		return errors.New("client.endpoint must not be empty")
	}
	switch cfg.Recognizer.Provider {
	case "deepgram", "none":
	default:
		return errors.New("recognizer.provider must be one of deepgram|none")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels != 1 {
		return errors.New("capture.channels must be 1")
	}
	if n := cfg.Visualizer.FFTSize; n < 32 || n > 32768 || n&(n-1) != 0 {
		return errors.New("visualizer.fft_size must be a power of two between 32 and 32768")
	}
	if cfg.Visualizer.FPS <= 0 {
		return errors.New("visualizer.fps must be positive")
	}
	if cfg.Visualizer.Width <= 0 || cfg.Visualizer.Height <= 0 {
		return errors.New("visualizer.width and visualizer.height must be positive")
	}
	if cfg.Upload.MaxBytes <= 0 {
		return errors.New("upload.max_bytes must be positive")
	}
	if len(cfg.Upload.AllowedTypes) == 0 {
		return errors.New("upload.allowed_types must not be empty")
	}
	switch cfg.Comments.RetentionMode {
	case "ephemeral":
	case "persistent":
		if cfg.Comments.Path == "" {
			return errors.New("comments.path must be set when retention_mode=persistent")
		}
	default:
		return errors.New("comments.retention_mode must be one of ephemeral|persistent")
	}
	return nil
}
