// Package server hosts the transcription route. Uploads are written to a
// temp file for the engine and removed once the engine returns.
package server

import (
	"context"
	"errors"
	"math/rand/v2"
	"mime/multipart"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"earshot/log"
	"earshot/transcriber"
)

const (
	defaultBodyLimit = 32 << 20
	noFileMessage    = "No file provided"
)

type Options struct {
	TempDir string
	// BodyLimit caps the multipart request size. Defaults to 32MB so the
	// 25MB upload limit plus form overhead fits.
	BodyLimit int
	// Remove deletes a temp file. Defaults to os.Remove.
	Remove func(path string) error
	// Registry receives the route metrics. Defaults to a fresh registry.
	Registry *prometheus.Registry
}

type Server struct {
	app     *fiber.App
	engine  transcriber.Engine
	tempDir string
	remove  func(string) error
	metrics *metrics
	now     func() time.Time
}

func New(engine transcriber.Engine, opts Options) *Server {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = defaultBodyLimit
	}
	if opts.Remove == nil {
		opts.Remove = os.Remove
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		engine:  engine,
		tempDir: opts.TempDir,
		remove:  opts.Remove,
		metrics: newMetrics(opts.Registry),
		now:     time.Now,
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "earshot",
		BodyLimit:             opts.BodyLimit,
		DisableStartupMessage: true,
	})
	s.app.Use(requestid.New())
	s.app.Post("/api/transcribe", s.handleTranscribe)
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "engine": engine.Name()})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	log.Infof("server: listening on %s (engine %s)", addr, s.engine.Name())
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// tempName returns upload-<unix-ms>-<base36 random><ext>.
func (s *Server) tempName(ext string) string {
	suffix := strconv.FormatUint(rand.Uint64(), 36)
	return filepath.Join(s.tempDir, "upload-"+strconv.FormatInt(s.now().UnixMilli(), 10)+"-"+suffix+ext)
}

func (s *Server) handleTranscribe(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		s.metrics.requests.WithLabelValues("bad_request").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": noFileMessage})
	}

	start := s.now()
	job := log.JobData{
		TempPath: s.tempName(filepath.Ext(fh.Filename)),
		SizeKB:   float64(fh.Size) / 1024,
		Status:   "pending",
	}

	result, engineTime, err := s.runJob(c, fh, job.TempPath)
	job.EngineMs = float64(engineTime.Microseconds()) / 1000
	job.TotalMs = float64(s.now().Sub(start).Microseconds()) / 1000
	if err != nil {
		job.Status = "failed"
		job.ErrMessage = err.Error()
		log.TranscriptionJob(job)
		s.metrics.requests.WithLabelValues("failed").Inc()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": fiber.Map{"message": err.Error()},
		})
	}
	job.Status = "succeeded"
	log.TranscriptionJob(job)
	s.metrics.requests.WithLabelValues("succeeded").Inc()
	s.metrics.duration.Observe(job.TotalMs / 1000)
	return c.Status(fiber.StatusOK).JSON(result)
}

// runJob saves the upload and calls the engine. The temp file is removed
// exactly once on every path after it may have been created.
func (s *Server) runJob(c *fiber.Ctx, fh *multipart.FileHeader, path string) (*transcriber.Transcription, time.Duration, error) {
	defer s.cleanup(path)

	if err := c.SaveFile(fh, path); err != nil {
		log.Errorf("server: save %s: %v", path, err)
		return nil, 0, errors.New("failed to store upload")
	}

	engineStart := s.now()
	result, err := s.engine.Transcribe(c.UserContext(), path)
	elapsed := s.now().Sub(engineStart)
	s.metrics.engine.Observe(elapsed.Seconds())
	if err != nil {
		log.Warnf("server: %s failed on %s: %v", s.engine.Name(), fh.Filename, err)
		return nil, elapsed, err
	}
	if result == nil {
		return nil, elapsed, errors.New("engine returned no transcription")
	}
	return result, elapsed, nil
}

func (s *Server) cleanup(path string) {
	err := s.remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return
	}
	s.metrics.cleanupFailures.Inc()
	log.CleanupFailed(path, err)
}
