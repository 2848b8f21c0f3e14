// Package app provides the core application service for Wails bindings.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wailsapp/wails/v3/pkg/application"

	"github.com/hotmic/hotmic/audiocapture"
	"github.com/hotmic/hotmic/config"
	"github.com/hotmic/hotmic/hotkey"
	"github.com/hotmic/hotmic/inject"
	"github.com/hotmic/hotmic/internal/session"
	"github.com/hotmic/hotmic/internal/types"
	"github.com/hotmic/hotmic/stt"
	"github.com/hotmic/hotmic/transcriptlog"
)

// Service wires the hotkey listener, session controller, transcription
// engines, injector and transcript log, and exposes the operations the
// frontend binds to.
type Service struct {
	cfg        *config.Config
	listener   *hotkey.Listener
	typer      *inject.Typer
	registry   *stt.Registry
	tlog       *transcriptlog.Log
	controller *session.Controller

	// UI references, set via Init.
	app    *application.App
	window application.Window

	mu     sync.RWMutex
	status types.StatusEvent

	cancel  context.CancelFunc
	runDone chan struct{}

	version string
}

// New creates a Service. Call Startup, then Init once the Wails app exists.
func New(version string) *Service {
	return &Service{version: version, runDone: make(chan struct{})}
}

// GetVersion returns the application version.
func (s *Service) GetVersion() string {
	return s.version
}

// Startup loads configuration and constructs every collaborator. Any error
// here is a configuration error and fatal: the caller prints it and exits
// non-zero.
func (s *Service) Startup() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	s.cfg = cfg

	if env, missing := cfg.MissingCredential(); missing {
		return fmt.Errorf("no API key for engine %q: set %s in the environment or a .env file", cfg.Engine, env)
	}

	typer, err := inject.New(inject.Config{
		Tool:           cfg.Injector.Tool,
		Mode:           cfg.Injector.Mode,
		TypeDelayMs:    cfg.Injector.TypeDelayMs,
		TrailingSpace:  cfg.Injector.TrailingSpace,
		SpokenCommands: cfg.Injector.SpokenCommands,
	})
	if err != nil {
		return err
	}
	s.typer = typer
	slog.Info("injection tool resolved", "tool", typer.Tool(), "mode", cfg.Injector.Mode)

	listener, err := hotkey.New(cfg.Trigger)
	if err != nil {
		return err
	}
	s.listener = listener
	typer.SetSuppressFunc(listener.Suppress)

	s.registry = stt.NewRegistry()
	if cfg.Deepgram.APIKey != "" {
		s.registry.Register(stt.NewDeepgram(stt.DeepgramConfig{
			APIKey:   cfg.Deepgram.APIKey,
			Endpoint: cfg.Deepgram.Endpoint,
		}))
	}
	if cfg.Whisper.APIKey != "" {
		s.registry.Register(stt.NewWhisper(stt.WhisperConfig{
			APIKey:  cfg.Whisper.APIKey,
			BaseURL: cfg.Whisper.BaseURL,
			Model:   cfg.Whisper.Model,
		}))
	}
	engine := s.registry.Get(cfg.Engine)
	if engine == nil {
		return fmt.Errorf("engine %q not available", cfg.Engine)
	}
	slog.Info("transcription engine selected", "engine", engine.Name())

	logFile, err := cfg.LogFile()
	if err != nil {
		return err
	}
	historyDir, err := cfg.HistoryDir()
	if err != nil {
		return err
	}
	tlog, err := transcriptlog.Open(logFile, historyDir)
	if err != nil {
		return err
	}
	s.tlog = tlog

	s.controller = session.New(session.Config{
		Engine:   engine,
		Source:   audiocapture.New(audiocapture.Config{SampleRate: cfg.SampleRate, FrameMs: cfg.FrameMs}),
		Injector: typer,
		Log:      tlog,
		Stream: stt.StreamConfig{
			SampleRate:     cfg.SampleRate,
			Channels:       1,
			Language:       cfg.Deepgram.Language,
			Model:          cfg.Deepgram.Model,
			Punctuate:      cfg.Deepgram.Punctuate,
			InterimResults: cfg.Deepgram.InterimResults,
		},
		Toggle:       cfg.Mode == config.ModeToggle,
		Debounce:     time.Duration(cfg.DebounceMs) * time.Millisecond,
		QueueDepth:   cfg.QueueDepth,
		OnState:      s.onState,
		OnTranscript: s.onTranscript,
	})

	s.status = types.StatusEvent{State: session.Idle.String(), Color: "red"}
	return nil
}

// Init starts the hotkey hook and the controller loop. Must be called after
// the Wails application is created.
func (s *Service) Init(app *application.App, window application.Window) error {
	s.app = app
	s.window = window

	if err := s.listener.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.runDone)
		s.controller.Run(ctx, s.listener.Edges())
	}()

	slog.Info("ready", "trigger", s.cfg.Trigger, "mode", s.cfg.Mode)
	return nil
}

// Shutdown tears everything down exactly once: stop edges, stop any active
// session, close the log. Safe to call with a session still listening.
func (s *Service) Shutdown() {
	if s.listener != nil {
		s.listener.Stop()
	}
	if s.cancel != nil {
		s.cancel()
		select {
		case <-s.runDone:
		case <-time.After(5 * time.Second):
			slog.Warn("controller did not stop in time")
		}
	}
	if s.tlog != nil {
		if err := s.tlog.Close(); err != nil {
			slog.Error("close transcript log", "error", err)
		}
	}
}

// ToggleListening flips the session from the tray or the indicator.
func (s *Service) ToggleListening() {
	s.controller.Toggle()
}

// GetStatus returns the current indicator state.
func (s *Service) GetStatus() types.StatusEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// GetTranscripts returns up to n history rows, newest first.
func (s *Service) GetTranscripts(n int) []types.TranscriptRow {
	if n <= 0 {
		n = 100
	}
	recs, err := s.tlog.Recent(n)
	if err != nil {
		slog.Error("read transcript history", "error", err)
		return nil
	}

	rows := make([]types.TranscriptRow, len(recs))
	for i, r := range recs {
		rows[i] = types.TranscriptRow{
			ID:   r.ID,
			Time: r.Time.Format("2006-01-02 15:04:05"),
			Text: r.Text,
		}
	}
	return rows
}

// IndicatorGeometry returns the configured indicator geometry.
func (s *Service) IndicatorGeometry() config.Indicator {
	return s.cfg.Indicator
}

func (s *Service) onState(st session.State, detail string) {
	color := "red"
	if st == session.Listening {
		color = "green"
	}
	ev := types.StatusEvent{State: st.String(), Color: color, Detail: detail}

	s.mu.Lock()
	s.status = ev
	s.mu.Unlock()

	if s.app != nil {
		s.app.Event.Emit(EventSessionState, ev)
	}
}

func (s *Service) onTranscript(text string, final bool) {
	if s.app != nil {
		s.app.Event.Emit(EventTranscript, types.TranscriptEvent{Text: text, Final: final})
	}
}
