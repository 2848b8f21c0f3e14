package stt

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// maxBufferedAudio bounds how much session audio the batch engine holds
// before old audio is discarded (10 minutes of 16kHz mono PCM16).
const maxBufferedAudio = 16000 * 2 * 600

// WhisperConfig holds settings for the batch Whisper engine.
type WhisperConfig struct {
	APIKey  string
	BaseURL string // optional, for OpenAI-compatible servers
	Model   string // optional, defaults to "whisper-1"
}

// Whisper is a batch engine: it buffers the whole session's audio and
// submits it for transcription when the stream closes. It emits exactly one
// final result and no interim results.
type Whisper struct {
	client *openai.Client
	model  string
}

// NewWhisper creates the Whisper batch engine.
func NewWhisper(cfg WhisperConfig) *Whisper {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "whisper-1"
	}

	client := openai.NewClient(opts...)
	return &Whisper{client: &client, model: model}
}

// Name implements Engine.
func (w *Whisper) Name() string { return "whisper" }

// Open returns a buffering stream; no network activity happens until Close.
func (w *Whisper) Open(_ context.Context, cfg StreamConfig) (Stream, error) {
	return &whisperStream{
		engine:  w,
		cfg:     cfg,
		results: make(chan Result, 1),
	}, nil
}

type whisperStream struct {
	engine *Whisper
	cfg    StreamConfig

	mu        sync.Mutex
	buf       []byte
	truncated bool

	closeOnce sync.Once
	results   chan Result
}

func (s *whisperStream) Send(_ context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, pcm...)
	if len(s.buf) > maxBufferedAudio {
		s.buf = s.buf[len(s.buf)-maxBufferedAudio:]
		if !s.truncated {
			s.truncated = true
			slog.Warn("whisper: session audio exceeds buffer, oldest audio dropped")
		}
	}
	return nil
}

func (s *whisperStream) Results() <-chan Result {
	return s.results
}

// Close submits the buffered audio and delivers the transcript as a single
// final result.
func (s *whisperStream) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		defer close(s.results)

		s.mu.Lock()
		pcm := s.buf
		s.buf = nil
		s.mu.Unlock()

		if len(pcm) == 0 {
			return
		}

		wav := pcm16ToWAV(pcm, s.cfg.SampleRate)
		params := openai.AudioTranscriptionNewParams{
			File:  openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
			Model: openai.AudioModel(s.engine.model),
		}
		if lang := shortLanguage(s.cfg.Language); lang != "" {
			params.Language = openai.String(lang)
		}

		resp, terr := s.engine.client.Audio.Transcriptions.New(ctx, params)
		if terr != nil {
			err = fmt.Errorf("whisper transcribe: %w", terr)
			return
		}
		if resp.Text == "" {
			return
		}

		s.results <- Result{
			ID:          uuid.NewString(),
			Text:        resp.Text,
			IsFinal:     true,
			SpeechFinal: true,
			Received:    time.Now(),
		}
	})
	return err
}

// shortLanguage reduces a BCP-47 tag like "en-US" to the ISO-639-1 code the
// transcription endpoint expects.
func shortLanguage(lang string) string {
	code, _, _ := strings.Cut(lang, "-")
	return code
}
