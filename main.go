package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"time"

	"earshot/audio"
	"earshot/beep"
	"earshot/comments"
	"earshot/config"
	"earshot/controller"
	"earshot/doctor"
	"earshot/log"
	"earshot/server"
	"earshot/shutdown"
	"earshot/transcriber"
	"earshot/upload"
	"earshot/visualizer"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		os.Exit(runServe(os.Args[2:]))
	}
	run()
}

// app is one recorder session: the controller plus the pieces the
// display reads directly.
type app struct {
	ctrl     *controller.Controller
	canvas   *visualizer.CellCanvas
	comments *comments.Store
	client   *transcriber.Client
	postID   int
	recName  string
}

func newBackend(cfg config.RecognizerConfig) transcriber.Backend {
	if cfg.Provider != "deepgram" {
		return nil
	}
	if cfg.APIKey == "" {
		log.Warn("DEEPGRAM_API_KEY not set; live recognition disabled")
		return nil
	}
	return transcriber.NewDeepgram(transcriber.DeepgramConfig{
		APIKey:          cfg.APIKey,
		Model:           cfg.Model,
		Language:        cfg.Language,
		NoSpeechTimeout: time.Duration(cfg.NoSpeechTimeoutMS) * time.Millisecond,
	})
}

func newApp(ctx context.Context, cfg config.Config, actx audio.Context, device *audio.DeviceInfo, opts controller.Options, backend transcriber.Backend, sink controller.ViewSink) (*app, error) {
	store, err := comments.Open(ctx, cfg.Comments)
	if err != nil {
		return nil, fmt.Errorf("opening comment store: %w", err)
	}

	audio.ConfigureShared(actx, cfg.Capture.SampleRate)
	media := audio.NewMediaSession(actx, device, audio.CaptureConfig{
		SampleRate: uint32(cfg.Capture.SampleRate),
		Channels:   uint32(cfg.Capture.Channels),
	})

	canvas := visualizer.NewCellCanvas(cfg.Visualizer.Width, cfg.Visualizer.Height)
	vis := visualizer.New(audio.Shared(), visualizer.NewTickerScheduler(cfg.Visualizer.FPS), canvas)
	vis.SetFFTSize(cfg.Visualizer.FFTSize)

	client := transcriber.NewClient(cfg.Client.Endpoint, time.Duration(cfg.Client.TimeoutMS)*time.Millisecond)
	go client.Warm()

	rec := transcriber.NewRecognizer(backend)
	ctrl := controller.New(controller.Deps{
		Media:      media,
		Recognizer: rec,
		Visualizer: vis,
		Client:     client,
		Comments:   store,
		Sink:       sink,
	}, opts)

	return &app{
		ctrl:     ctrl,
		canvas:   canvas,
		comments: store,
		client:   client,
		postID:   opts.PostID,
		recName:  rec.BackendName(),
	}, nil
}

func (a *app) loadFile(ctx context.Context, path string, limit int64) error {
	cand, err := upload.FromFile(path, limit)
	if err != nil {
		return err
	}
	return a.ctrl.SelectFile(ctx, cand)
}

func (a *app) Close() {
	a.ctrl.Close()
	if n, err := a.comments.Count(context.Background(), a.postID); err == nil {
		log.SessionEnd(n)
	}
	if err := a.comments.Close(); err != nil {
		log.Warnf("closing comment store: %v", err)
	}
	if err := audio.CloseShared(); err != nil {
		log.Warnf("closing audio engine: %v", err)
	}
}

func setupLogging(flagPath string, cfg config.LogConfig) {
	if flagPath == "" {
		flagPath = cfg.Path
	}
	logPath, err := log.ResolveDir(flagPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	log.SetLevel(cfg.Level)

	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
		return
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
}

func resolveDevice(actx audio.Context, name string, setup bool) (*audio.DeviceInfo, error) {
	if name != "" {
		return audio.FindDevice(actx, name)
	}
	if setup {
		return audio.SelectDevice(actx, os.Stdin, os.Stdout)
	}
	return nil, nil
}

func run() {
	commentFlag := flag.Bool("comment", false, "Comment composer: selected files are transcribed right away and posted as comments")
	postFlag := flag.Int("post", 1, "Post ID that comments are attached to")
	fileFlag := flag.String("file", "", "Audio file to load on start")
	configFlag := flag.String("config", "", "YAML config file")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven)")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	quietFlag := flag.Bool("quiet", false, "Disable start/stop/error beeps")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("earshot %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	setupLogging(*logPathFlag, cfg.Log)
	defer log.Close()

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	opts := controller.Options{
		Mode:   controller.ModeUploader,
		PostID: *postFlag,
		Policy: upload.Policy{AllowedTypes: cfg.Upload.AllowedTypes, MaxSize: cfg.Upload.MaxBytes},
	}
	if *commentFlag {
		opts.Mode = controller.ModeComment
	}

	if *doctorFlag {
		os.Exit(runDoctor(cfg, *deviceFlag))
	}

	if *testFlag {
		args := flag.Args()
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: earshot -test <wav-file>")
			os.Exit(1)
		}
		os.Exit(runTestMode(cfg, opts, args[0]))
	}

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer actx.Close()

	if *deviceFlag == "" {
		*deviceFlag = cfg.Capture.Device
	}
	device, err := resolveDevice(actx, *deviceFlag, *setupFlag)
	if err != nil {
		log.Warnf("device selection failed: %v", err)
		fmt.Printf("Warning: device selection failed: %v\n", err)
		fmt.Println("Falling back to default device")
		device = nil
	}

	cues := beep.New(actx)
	if *quietFlag {
		cues.Disable()
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, actx, device, opts, newBackend(cfg.Recognizer), newCueSink(displaySink{}, cues))
	if err != nil {
		log.Errorf("startup: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()
	log.SessionStart(opts.Mode.String(), a.recName)

	tuiMu.Lock()
	tuiProgram = NewTUIProgram(a, deviceLineText(device), cfg.Upload.MaxBytes)
	tuiMu.Unlock()

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		tuiProgram.Quit()
	}()

	if *fileFlag != "" {
		go func() {
			if err := a.loadFile(ctx, *fileFlag, cfg.Upload.MaxBytes); err != nil {
				log.Warnf("loading %s: %v", *fileFlag, err)
				tuiSend(StatusMsg{Text: err.Error()})
			}
		}()
	}

	if _, err := tuiProgram.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
	}
}

func runDoctor(cfg config.Config, deviceName string) int {
	opts := doctor.Options{Config: cfg, Clipboard: true}
	actx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("Warning: cannot connect to audio: %v\n", err)
		return doctor.Run(os.Stdout, opts)
	}
	defer actx.Close()
	opts.Audio = actx

	if deviceName == "" {
		deviceName = cfg.Capture.Device
	}
	if deviceName != "" {
		if opts.Device, err = audio.FindDevice(actx, deviceName); err != nil {
			fmt.Printf("Warning: %v; using system default\n", err)
		}
	}
	return doctor.Run(os.Stdout, opts)
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFlag := fs.String("config", "", "YAML config file")
	fs.Parse(args)

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log.SetLevel(cfg.Log.Level)
	log.InitWriter(os.Stderr)

	if cfg.Server.APIKey == "" {
		fmt.Fprintln(os.Stderr, "Error: GROQ_API_KEY not set")
		return 1
	}
	engine := transcriber.NewGroq(cfg.Server.APIKey, cfg.Server.EngineURL, transcriber.EngineParams{
		Model:       cfg.Server.Model,
		Language:    cfg.Server.Language,
		Temperature: float32(cfg.Server.Temperature),
	})
	if err := os.MkdirAll(cfg.Server.TempDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: temp dir: %v\n", err)
		return 1
	}
	srv := server.New(engine, server.Options{TempDir: cfg.Server.TempDir})

	addr := net.JoinHostPort(cfg.Server.Bind, strconv.Itoa(cfg.Server.Port))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(addr) }()
	log.Infof("serve: %s on %s", engine.Name(), addr)

	sigCtx, stop := shutdown.Context(context.Background())
	defer stop()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("serve: %v", err)
			return 1
		}
		return 0
	case <-sigCtx.Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("serve: shutdown: %v", err)
		return 1
	}
	log.Info("serve: stopped")
	return 0
}
