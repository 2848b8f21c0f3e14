package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// resultBuffer absorbs bursts of trailing finals after CloseStream so a
// briefly busy consumer does not cost a result.
const resultBuffer = 64

const (
	// DefaultDeepgramEndpoint is the Deepgram live transcription URL.
	DefaultDeepgramEndpoint = "wss://api.deepgram.com/v1/listen"

	// keepAliveInterval keeps the socket open across pauses in speech.
	keepAliveInterval = 5 * time.Second
)

// DeepgramConfig holds connection-independent Deepgram settings.
type DeepgramConfig struct {
	APIKey   string
	Endpoint string // override for testing, defaults to DefaultDeepgramEndpoint
}

// Deepgram is the live streaming engine backed by Deepgram's listen API.
type Deepgram struct {
	apiKey   string
	endpoint string
}

// NewDeepgram creates the Deepgram engine.
func NewDeepgram(cfg DeepgramConfig) *Deepgram {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultDeepgramEndpoint
	}
	return &Deepgram{apiKey: cfg.APIKey, endpoint: endpoint}
}

// Name implements Engine.
func (d *Deepgram) Name() string { return "deepgram" }

// Open dials the live endpoint and starts the receive loop.
func (d *Deepgram) Open(ctx context.Context, cfg StreamConfig) (Stream, error) {
	u, err := deepgramURL(d.endpoint, cfg)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": {"Token " + d.apiKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram dial: %w", err)
	}
	// Audio frames are small but frequent; the default read limit is fine,
	// raise the write side implicitly by never batching.
	conn.SetReadLimit(1 << 20)

	s := &deepgramStream{
		conn:     conn,
		results:  make(chan Result, resultBuffer),
		writeSem: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go s.readLoop()
	go s.keepAlive()
	return s, nil
}

// deepgramStream is one live connection.
type deepgramStream struct {
	conn    *websocket.Conn
	results chan Result

	// writeSem is the single write slot the conn allows. A channel rather
	// than a mutex: every acquisition is bounded by a context, so a write
	// stalled on a dead peer can never wedge Close or the keepalive.
	writeSem  chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// acquireWrite takes the write slot, giving up when ctx expires.
func (s *deepgramStream) acquireWrite(ctx context.Context) error {
	select {
	case s.writeSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *deepgramStream) releaseWrite() { <-s.writeSem }

func (s *deepgramStream) Send(ctx context.Context, pcm []byte) error {
	if err := s.acquireWrite(ctx); err != nil {
		return fmt.Errorf("deepgram send: %w", err)
	}
	defer s.releaseWrite()

	select {
	case <-s.done:
		return fmt.Errorf("deepgram: stream closed")
	default:
	}
	if err := s.conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		return fmt.Errorf("deepgram send: %w", err)
	}
	return nil
}

func (s *deepgramStream) Results() <-chan Result {
	return s.results
}

// Close asks the service to flush remaining audio, waits for the receive
// loop to drain (bounded by ctx), then closes the socket.
func (s *deepgramStream) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		// The flush is best effort: a sender stalled on a dead peer may be
		// holding the write slot, and the socket close below unblocks it.
		if aerr := s.acquireWrite(ctx); aerr == nil {
			werr := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
			s.releaseWrite()
			if werr != nil {
				slog.Debug("deepgram close stream", "error", werr)
			}

			// The server replies with any trailing finals and then closes;
			// the read loop signals done when that happens.
			select {
			case <-s.done:
			case <-ctx.Done():
				err = fmt.Errorf("deepgram close: %w", ctx.Err())
			}
		} else {
			err = fmt.Errorf("deepgram close: %w", aerr)
		}
		_ = s.conn.Close(websocket.StatusNormalClosure, "session over")
	})
	return err
}

func (s *deepgramStream) readLoop() {
	defer close(s.results)
	defer close(s.done)

	ctx := context.Background()
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				slog.Debug("deepgram read", "error", err)
			}
			return
		}

		res, ok := parseDeepgramMessage(data, time.Now())
		if !ok {
			continue
		}
		select {
		case s.results <- res:
		case <-time.After(time.Second):
			// The controller has stalled; favor liveness of the read loop,
			// but leave the lost text in the log.
			slog.Warn("deepgram result dropped, consumer stalled",
				"final", res.IsFinal, "text", res.Text)
		}
	}
}

func (s *deepgramStream) keepAlive() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			wctx, cancel := context.WithTimeout(context.Background(), keepAliveInterval)
			if err := s.acquireWrite(wctx); err != nil {
				cancel()
				return
			}
			err := s.conn.Write(wctx, websocket.MessageText, []byte(`{"type":"KeepAlive"}`))
			s.releaseWrite()
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// deepgramMessage mirrors the subset of the live Results payload we consume.
type deepgramMessage struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramMessage extracts a Result from a raw server message. Returns
// false for non-Results messages (Metadata, SpeechStarted, UtteranceEnd) and
// for empty transcripts.
func parseDeepgramMessage(data []byte, now time.Time) (Result, bool) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("deepgram unmarshal", "error", err)
		return Result{}, false
	}
	if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
		return Result{}, false
	}

	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return Result{}, false
	}

	return Result{
		// Deepgram does not number its events; the audio window is stable
		// across replays and identifies one.
		ID:          fmt.Sprintf("dg-%.4f-%.4f-final=%t", msg.Start, msg.Start+msg.Duration, msg.IsFinal),
		Text:        alt.Transcript,
		IsFinal:     msg.IsFinal,
		SpeechFinal: msg.SpeechFinal,
		Confidence:  alt.Confidence,
		Received:    now,
	}, true
}

// deepgramURL builds the listen URL with stream parameters.
func deepgramURL(endpoint string, cfg StreamConfig) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("deepgram endpoint: %w", err)
	}

	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", strconv.Itoa(max(cfg.Channels, 1)))
	if cfg.Model != "" {
		q.Set("model", cfg.Model)
	}
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	q.Set("punctuate", strconv.FormatBool(cfg.Punctuate))
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
