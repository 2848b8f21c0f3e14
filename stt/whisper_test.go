package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestShortLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"en-US", "en"},
		{"de", "de"},
		{"pt-BR", "pt"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := shortLanguage(tt.in); got != tt.want {
			t.Errorf("shortLanguage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWhisperStreamSubmitsOnClose(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if model := r.FormValue("model"); model != "whisper-1" {
			t.Errorf("model = %q, want whisper-1", model)
		}
		if lang := r.FormValue("language"); lang != "en" {
			t.Errorf("language = %q, want en", lang)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "hello from whisper"})
	}))
	defer srv.Close()

	eng := NewWhisper(WhisperConfig{APIKey: "test", BaseURL: srv.URL})
	stream, err := eng.Open(context.Background(), StreamConfig{SampleRate: 16000, Language: "en-US"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := stream.Send(context.Background(), make([]byte, 3200)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := stream.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !strings.HasSuffix(gotPath, "/audio/transcriptions") {
		t.Errorf("request path = %q, want the transcription endpoint", gotPath)
	}

	res, ok := <-stream.Results()
	if !ok {
		t.Fatal("results channel closed without a result")
	}
	if res.Text != "hello from whisper" || !res.IsFinal {
		t.Errorf("result = %+v, want final %q", res, "hello from whisper")
	}
	if res.ID == "" {
		t.Error("result has no ID")
	}
	if _, ok := <-stream.Results(); ok {
		t.Error("batch stream emitted more than one result")
	}
}

func TestWhisperStreamEmptySessionSkipsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request sent for an empty session")
	}))
	defer srv.Close()

	eng := NewWhisper(WhisperConfig{APIKey: "test", BaseURL: srv.URL})
	stream, err := eng.Open(context.Background(), StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := stream.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-stream.Results(); ok {
		t.Error("empty session produced a result")
	}
}

func TestWhisperStreamBufferIsBounded(t *testing.T) {
	s := &whisperStream{results: make(chan Result, 1)}

	chunk := make([]byte, maxBufferedAudio/2)
	for i := 0; i < 5; i++ {
		if err := s.Send(context.Background(), chunk); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	s.mu.Lock()
	n := len(s.buf)
	truncated := s.truncated
	s.mu.Unlock()

	if n > maxBufferedAudio {
		t.Errorf("buffer = %d bytes, want <= %d", n, maxBufferedAudio)
	}
	if !truncated {
		t.Error("overflow not flagged")
	}
}
