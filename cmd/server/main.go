package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yegors/clara/internal/ai"
	"github.com/yegors/clara/internal/ai/gemini"
	"github.com/yegors/clara/internal/ai/openai"
	"github.com/yegors/clara/internal/api"
	"github.com/yegors/clara/internal/app"
	"github.com/yegors/clara/internal/assistant"
	"github.com/yegors/clara/internal/capture"
	"github.com/yegors/clara/internal/clinical"
	"github.com/yegors/clara/internal/config"
	"github.com/yegors/clara/internal/encounter"
	"github.com/yegors/clara/internal/geo"
	"github.com/yegors/clara/internal/live"
	"github.com/yegors/clara/internal/metrics"
	"github.com/yegors/clara/internal/playback"
	"github.com/yegors/clara/internal/records"
	"github.com/yegors/clara/internal/seed"
	"github.com/yegors/clara/internal/storage/sqlite"
	"github.com/yegors/clara/internal/synthesis"
	"github.com/yegors/clara/internal/templating"
	"github.com/yegors/clara/internal/websocket"
	"github.com/yegors/clara/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

const (
	roleEncounter = "encounter"
	roleAssistant = "assistant"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	envErr := loadEnvFile(".env")

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if envErr != nil {
		log.Warn("Failed to load .env file", logger.Error(envErr))
	}

	log.Info("Starting CLARA server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Key-value storage for the roster and audit log
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0755); err != nil {
		log.Error("Failed to create database directory", logger.Error(err), logger.String("path", cfg.Storage.SQLitePath))
		os.Exit(1)
	}
	store, err := sqlite.NewKVStore(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to open SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer store.Close()
	log.Info("Using SQLite storage", logger.String("path", cfg.Storage.SQLitePath))

	roster, err := records.NewRoster(store, log)
	if err != nil {
		log.Error("Failed to load patient roster", logger.Error(err))
		os.Exit(1)
	}
	auditLog, err := records.NewAuditLog(store, log)
	if err != nil {
		log.Error("Failed to load audit log", logger.Error(err))
		os.Exit(1)
	}

	// Create WebSocket server
	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	state := app.NewContext(cfg.Encounter.DefaultLanguage, wsServer, log)

	// Capture source
	arbiter := capture.NewArbiter()
	var source capture.Source
	var browserCapture *capture.BrowserSource
	switch cfg.Capture.Source {
	case "ffmpeg":
		source = capture.NewFFmpegSource(capture.FFmpegConfig{
			FFmpegPath:   cfg.Capture.FFmpegPath,
			InputFormat:  cfg.Capture.FFmpegInputFormat,
			InputDevice:  cfg.Capture.FFmpegInputDevice,
			SampleRate:   cfg.Encounter.CaptureSampleRate,
			FrameSamples: cfg.Encounter.FrameSamples,
		}, arbiter, log)
	default:
		browserCapture = capture.NewBrowserSource(arbiter, wsServer, cfg.Encounter.CaptureSampleRate, cfg.Capture.PermissionTimeout(), log)
		source = browserCapture
	}
	log.Info("Capture source configured", logger.String("source", cfg.Capture.Source))

	// Playback sink
	var output playback.Output
	switch cfg.Playback.Sink {
	case "speaker":
		speaker, err := playback.NewSpeakerSink(cfg.Assistant.PlaybackSampleRate, 1)
		if err != nil {
			log.Error("Failed to open speaker output", logger.Error(err))
			os.Exit(1)
		}
		output = speaker
	default:
		output = playback.NewBrowserSink(wsServer)
	}
	policy, err := playback.ParseResetPolicy(cfg.Assistant.InterruptReset)
	if err != nil {
		log.Error("Invalid playback reset policy", logger.Error(err))
		os.Exit(1)
	}
	scheduler := playback.NewScheduler(output, log, playback.WithResetPolicy(policy), playback.WithObserver(m))

	// Model providers
	geminiClient, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:           cfg.Gemini.APIKey,
		LiveHost:         cfg.Gemini.LiveHost,
		HandshakeTimeout: cfg.Gemini.HandshakeTimeout(),
	}, log)
	if err != nil {
		log.Error("Failed to create Gemini client", logger.Error(err))
		os.Exit(1)
	}
	var chat ai.ChatProvider = geminiClient
	if cfg.Assistant.ChatProvider == "openai" {
		chat = openai.NewClient(cfg.OpenAI.APIKey, log, cfg.OpenAI.BaseURL)
	}
	log.Info("Chat provider configured",
		logger.String("provider", cfg.Assistant.ChatProvider),
		logger.String("model", cfg.Assistant.ChatModel))

	// Location bias for nearby-care searches
	var locator geo.Locator
	var browserLocator *geo.BrowserLocator
	if cfg.Geolocation.Latitude != nil && cfg.Geolocation.Longitude != nil {
		locator = geo.StaticLocator{Latitude: *cfg.Geolocation.Latitude, Longitude: *cfg.Geolocation.Longitude}
	} else {
		browserLocator = geo.NewBrowserLocator(wsServer, cfg.Geolocation.Timeout(), cfg.Geolocation.MaxAge(), log)
		locator = browserLocator
	}

	// Create templating service
	templateService := templating.NewService(templating.Paths{
		Encounter:  cfg.Encounter.PromptTemplatePath,
		Synthesis:  cfg.Synthesis.PromptTemplatePath,
		NearbyCare: cfg.NearbyCare.PromptTemplatePath,
	}, log)

	synthesisService := synthesis.NewService(synthesis.Config{
		Model:           cfg.Synthesis.Model,
		NearbyCareModel: cfg.NearbyCare.Model,
		FallbackMessage: cfg.NearbyCare.FallbackMessage,
		SearchTimeout:   cfg.NearbyCare.Timeout(),
	}, synthesis.Deps{
		Generator: geminiClient,
		Search:    geminiClient,
		Roster:    roster,
		Audit:     auditLog,
		Prompts:   templateService,
		State:     state,
		Locator:   locator,
		Publisher: wsServer,
		Recorder:  m,
	}, log)

	encounterController := encounter.NewController(encounter.Config{
		Model:             cfg.Encounter.Model,
		DefaultSpeaker:    clinical.Speaker(cfg.Encounter.DefaultSpeaker),
		CaptureSampleRate: cfg.Encounter.CaptureSampleRate,
		GraceDelay:        cfg.Encounter.GraceDelay(),
	}, encounter.Deps{
		Session: live.NewSession(roleEncounter, source, geminiClient, log,
			live.WithObserver(m), live.WithFrameSamples(cfg.Encounter.FrameSamples)),
		Roster:      roster,
		Audit:       auditLog,
		Prompts:     templateService,
		State:       state,
		Synthesizer: synthesisService,
		Publisher:   wsServer,
		Recorder:    m,
	}, log)

	assistantController := assistant.NewController(assistant.Config{
		Model:              cfg.Assistant.Model,
		Voice:              cfg.Assistant.Voice,
		SystemPrompt:       cfg.Assistant.SystemPrompt,
		ChatModel:          cfg.Assistant.ChatModel,
		ChatSystemPrompt:   cfg.Assistant.ChatSystemPrompt,
		CaptureSampleRate:  cfg.Encounter.CaptureSampleRate,
		PlaybackSampleRate: cfg.Assistant.PlaybackSampleRate,
	}, assistant.Deps{
		Session: live.NewSession(roleAssistant, source, geminiClient, log,
			live.WithObserver(m), live.WithFrameSamples(cfg.Encounter.FrameSamples)),
		Scheduler: scheduler,
		Chat:      chat,
		Audit:     auditLog,
		State:     state,
		Publisher: wsServer,
	}, log)

	// The handlers take a nil interface, not a typed nil, when the location
	// is static
	var reporter api.LocationReporter
	if browserLocator != nil {
		reporter = browserLocator
	}
	wsServer.SetMessageHandler(api.NewHubMessageHandler(state, reporter, log))

	handler := api.NewHandler(api.Deps{
		Roster:    roster,
		Audit:     auditLog,
		State:     state,
		Encounter: encounterController,
		Assistant: assistantController,
		Synthesis: synthesisService,
		Locator:   reporter,
		Seed: func() []clinical.Patient {
			return seed.Generate(time.Now(), rand.New(rand.NewSource(time.Now().UnixNano())))
		},
	}, cfg, log)

	opts := []api.RouterOption{api.WithStaticFiles(cfg.Server.StaticFilesDir)}
	if browserCapture != nil {
		opts = append(opts, api.WithCaptureSocket(api.NewCaptureSocketHandler(browserCapture, log)))
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, api.WithMetrics(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	// Create API router
	router := api.NewRouter(handler, wsServer, log, opts...)
	routes := router.Routes()

	// --- Setup for multiple HTTP servers ---
	var servers []*http.Server
	allPorts := []int{cfg.Server.Port}
	if len(cfg.Server.AdditionalPorts) > 0 {
		allPorts = append(allPorts, cfg.Server.AdditionalPorts...)
	}

	log.Info("Configured listener ports", logger.Any("ports", allPorts))

	// Start a server for each configured port
	for _, port := range allPorts {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)
		server := &http.Server{
			Addr:         addr,
			Handler:      routes, // All servers use the same main router
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
		}
		servers = append(servers, server)

		go func(s *http.Server) {
			log.Info("Starting HTTP server", logger.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP server error on startup", logger.String("addr", s.Addr), logger.Error(err))
			}
		}(server)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	// Stop live sessions first so devices and playback are released
	log.Info("Stopping live sessions...")
	encounterController.Stop()
	assistantController.Stop()

	log.Info("Waiting for background searches...")
	waitDone := make(chan struct{})
	go func() {
		synthesisService.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		log.Warn("Background searches still running at shutdown")
	}

	// Cancel the main context
	cancel()

	// Shutdown all HTTP servers
	log.Info("Shutting down HTTP servers...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			log.Info("Attempting to shutdown HTTP server", logger.String("addr", srv.Addr))
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", logger.String("addr", srv.Addr), logger.Error(err))
			} else {
				log.Info("HTTP server shutdown complete", logger.String("addr", srv.Addr))
			}
		}(s)
	}
	wg.Wait()

	wsServer.Stop()
	log.Info("Server fully stopped")
}

// loadEnvFile reads secrets from path. A missing file is normal outside
// development and is not an error.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
