package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/audio"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/backend"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/capture"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/config"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/hub"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/metrics"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/storage/sqlite"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/translator"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/pkg/logger"
)

// app holds every long-lived component of the serve command
type app struct {
	config       *config.Config
	logger       *logger.Logger
	metrics      *metrics.Metrics
	orchestrator *translator.Orchestrator
	db           *sql.DB
}

func newBackendClient(cfg *config.Config, jar http.CookieJar, log *logger.Logger) *backend.Client {
	return backend.NewClient(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		Timeout:        cfg.Backend.RequestTimeout(),
		MaxRetries:     cfg.Backend.MaxRetries,
		InitialBackoff: cfg.Backend.RetryInitialBackoff(),
	}, jar, log)
}

// newTextTranslator picks the text path provider
func newTextTranslator(cfg *config.Config, client *backend.Client, log *logger.Logger) translator.TextTranslator {
	if cfg.Backend.TextProvider == "openai" {
		return backend.NewOpenAITranslator(cfg.Backend.OpenAIAPIKey, cfg.Backend.OpenAIModel, log)
	}
	return client
}

func newApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	clock := clockwork.NewRealClock()
	m := metrics.New()

	jar, err := backend.NewCookieJar()
	if err != nil {
		return nil, err
	}
	backendClient := newBackendClient(cfg, jar, log)

	// Capture pipeline: ffmpeg device -> recorder -> spectrum tap -> level monitor
	format := audio.Format{SampleRate: cfg.Capture.SampleRate, Channels: cfg.Capture.Channels}
	spectrum, err := audio.NewSpectrum(cfg.Capture.FFTSize)
	if err != nil {
		return nil, err
	}
	device := audio.NewFFmpegDevice(audio.FFmpegConfig{
		Path:        cfg.Capture.FFmpegPath,
		InputFormat: cfg.Capture.InputFormat,
		InputDevice: cfg.Capture.InputDevice,
	}, log)
	recorder := audio.NewRecorder(device, audio.RecorderConfig{
		Format:    format,
		TimeSlice: cfg.Capture.TimeSlice(),
		Tap:       spectrum,
	}, clock, log)
	monitor := audio.NewLevelMonitor(spectrum, audio.LevelConfig{
		Interval:  cfg.Capture.LevelInterval(),
		Threshold: cfg.Capture.ActivityThreshold,
	}, clock, log)
	controller := capture.NewController(recorder, monitor, capture.Config{
		SilenceTimeout: cfg.Capture.SilenceTimeout(),
		ContinuousMode: cfg.Capture.ContinuousMode,
	}, log)

	session := hub.NewClient(hub.ClientConfig{
		Connection: hub.ConnectionConfig{
			URL:              cfg.Backend.HubURL,
			HandshakeTimeout: cfg.Session.HandshakeTimeout(),
			KeepAlive:        cfg.Session.KeepAlive(),
			ServerTimeout:    cfg.Session.ServerTimeout(),
			InvokeTimeout:    cfg.Session.InvokeTimeout(),
			ReconnectDelays:  cfg.Session.ReconnectDelays(),
		},
		RejoinOnReconnect: cfg.Session.RejoinOnReconnect,
	}, hub.NewDialer(jar, cfg.Session.HandshakeTimeout()), clock, log)

	a := &app{
		config:  cfg,
		logger:  log,
		metrics: m,
	}

	var history translator.HistoryStore
	if cfg.Storage.Enabled {
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		store, err := sqlite.NewResultStorage(db, log)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
		history = store
		log.Info("Translation history enabled", logger.String("path", cfg.Storage.SQLitePath))
	}

	orchestrator, err := translator.New(translator.Config{
		SourceLanguage: cfg.Translation.SourceLanguage,
		TargetLanguage: cfg.Translation.TargetLanguage,
		AutoPlay:       cfg.Translation.AutoPlay,
	}, translator.Dependencies{
		Capture:    controller,
		Session:    session,
		Translator: newTextTranslator(cfg, backendClient, log),
		Speech:     backendClient,
		Player:     audio.NewFFplayPlayer(cfg.Translation.PlayerPath, log),
		History:    history,
		Metrics:    m,
		Clock:      clock,
	}, log)
	if err != nil {
		a.close(context.Background())
		return nil, fmt.Errorf("failed to create translator: %w", err)
	}
	a.orchestrator = orchestrator

	return a, nil
}

// close stops capture, disconnects and releases the database
func (a *app) close(ctx context.Context) {
	if a.orchestrator != nil {
		a.orchestrator.Close(ctx)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("Failed to close database", logger.Error(err))
		}
	}
}
