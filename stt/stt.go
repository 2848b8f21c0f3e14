// Package stt provides streaming speech-to-text engine interface and
// implementations.
package stt

import (
	"context"
	"time"
)

// Result is a single transcript event from an engine.
type Result struct {
	// ID is stable per upstream event so a replayed event can be recognized
	// and committed at most once downstream.
	ID string
	// Text is the transcript fragment.
	Text string
	// IsFinal marks the fragment as no longer subject to revision. Only
	// final results may be injected or logged.
	IsFinal bool
	// SpeechFinal marks end-of-speech as detected by the service.
	SpeechFinal bool
	// Confidence is the recognition confidence 0-1, when reported.
	Confidence float64
	// Received is the local arrival time.
	Received time.Time
}

// StreamConfig holds per-connection parameters.
type StreamConfig struct {
	SampleRate int
	Channels   int
	Language   string
	Model      string
	Punctuate  bool
	// InterimResults asks the service for non-final fragments too.
	InterimResults bool
}

// Stream is one live transcription connection. Send and Close are called by
// a single goroutine each; Results is read until closed.
type Stream interface {
	// Send forwards one PCM16 frame. Fire-and-forget from the caller's view;
	// an error means the stream is no longer usable.
	Send(ctx context.Context, pcm []byte) error
	// Results returns the event channel, closed when the stream ends.
	Results() <-chan Result
	// Close flushes pending audio and tears the connection down, bounded by
	// ctx. Idempotent.
	Close(ctx context.Context) error
}

// Engine opens transcription streams. Implementations are safe for reuse
// across sessions but a Stream belongs to exactly one session.
type Engine interface {
	Name() string
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Registry holds registered engines.
type Registry struct {
	engines map[string]Engine
}

// NewRegistry creates an empty engine registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Register adds an engine to the registry.
func (r *Registry) Register(e Engine) {
	r.engines[e.Name()] = e
}

// Get returns an engine by name, or nil.
func (r *Registry) Get(name string) Engine {
	return r.engines[name]
}

// List returns all registered engines.
func (r *Registry) List() []Engine {
	result := make([]Engine, 0, len(r.engines))
	for _, e := range r.engines {
		result = append(result, e)
	}
	return result
}
