package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/field-assist/internal/analysis"
	"github.com/lexiqai/field-assist/internal/audio"
	"github.com/lexiqai/field-assist/internal/config"
	"github.com/lexiqai/field-assist/internal/console"
	"github.com/lexiqai/field-assist/internal/media"
	"github.com/lexiqai/field-assist/internal/observability"
	"github.com/lexiqai/field-assist/internal/resilience"
	"github.com/lexiqai/field-assist/internal/stt"
	"github.com/lexiqai/field-assist/internal/view"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("listen_addr", cfg.ListenAddr).
		Str("log_level", cfg.LogLevel).
		Bool("captions", cfg.CaptionsEnabled()).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Field assist console starting")

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	// Capture session on the local microphone
	mic := audio.NewFFMPEGMicrophone(cfg.RecorderCommand)
	vadConfig := audio.DefaultVADConfig()
	vadConfig.EnergyThreshold = cfg.VADEnergyThreshold
	session := audio.NewSession(mic, audio.CaptureConfig{
		SampleRate:  cfg.AudioSampleRate,
		Channels:    cfg.AudioChannels,
		InputFormat: cfg.AudioInputFormat,
		InputDevice: cfg.AudioInputDevice,
		ChunkSize:   cfg.AudioChunkSize,
	}, vadConfig)

	// Live captions are optional
	var captioner stt.Captioner
	if cfg.CaptionsEnabled() {
		captioner = stt.NewDeepgramCaptioner(stt.DeepgramConfig{
			APIKey:     cfg.DeepgramAPIKey,
			Model:      cfg.DeepgramModel,
			Language:   cfg.DeepgramLanguage,
			SampleRate: cfg.AudioSampleRate,
			Channels:   cfg.AudioChannels,
			Reconnect: &resilience.ReconnectConfig{
				MaxAttempts: cfg.ReconnectMaxAttempts,
				Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
				Multiplier:  2.0,
				MaxBackoff:  5 * time.Second,
			},
			BreakerMaxFailures:  cfg.BreakerMaxFailures,
			BreakerResetTimeout: time.Duration(cfg.BreakerResetTimeout) * time.Millisecond,
		})
	}

	// No client timeout: a submission runs until the service answers or the
	// process shuts down.
	analyzer := analysis.NewClient(cfg.AnalysisAPIURL, &http.Client{})
	logger.Info().
		Str("analyze_url", analyzer.BaseURL()+analysis.AnalyzePath).
		Msg("Analysis client configured")

	controller := view.NewController(analyzer, session, captioner, media.NewPreviews())

	// Create HTTP server
	mux := http.NewServeMux()
	console.NewServer(baseCtx, controller).Routes(mux)

	// Health check endpoint
	mux.HandleFunc("GET /health", observability.HealthCheckHandler())

	// Readiness checks the analysis service
	mux.HandleFunc("GET /ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"analysis": analyzer.Ping,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Submissions have no deadline, so responses carry none either.
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("console", fmt.Sprintf("http://%s/api/state", cfg.ListenAddr)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Release the microphone and abandon any submission before draining
	controller.Close()
	cancelBase()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
