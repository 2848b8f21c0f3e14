package stt

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestWriteSlotAcquisitionIsBounded(t *testing.T) {
	s := &deepgramStream{
		results:  make(chan Result, 1),
		writeSem: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	if err := s.acquireWrite(context.Background()); err != nil {
		t.Fatalf("acquire on a free slot: %v", err)
	}

	// A second writer must give up at its deadline, not wait forever.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := s.acquireWrite(ctx); err == nil {
		t.Fatal("second acquire succeeded while the slot is held")
	}
	if waited := time.Since(start); waited > time.Second {
		t.Errorf("acquire waited %v past its deadline", waited)
	}

	s.releaseWrite()
	if err := s.acquireWrite(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestParseDeepgramMessage(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		data     string
		wantOK   bool
		wantText string
		final    bool
	}{
		{
			name: "final result",
			data: `{"type":"Results","is_final":true,"speech_final":true,
				"start":1.5,"duration":2.0,
				"channel":{"alternatives":[{"transcript":"hello world","confidence":0.98}]}}`,
			wantOK:   true,
			wantText: "hello world",
			final:    true,
		},
		{
			name: "interim result",
			data: `{"type":"Results","is_final":false,
				"start":1.5,"duration":0.5,
				"channel":{"alternatives":[{"transcript":"hel","confidence":0.4}]}}`,
			wantOK:   true,
			wantText: "hel",
			final:    false,
		},
		{
			name: "empty transcript skipped",
			data: `{"type":"Results","is_final":true,
				"channel":{"alternatives":[{"transcript":"","confidence":0}]}}`,
			wantOK: false,
		},
		{
			name:   "metadata skipped",
			data:   `{"type":"Metadata","request_id":"abc"}`,
			wantOK: false,
		},
		{
			name:   "utterance end skipped",
			data:   `{"type":"UtteranceEnd","last_word_end":3.1}`,
			wantOK: false,
		},
		{
			name:   "garbage skipped",
			data:   `not json`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := parseDeepgramMessage([]byte(tt.data), now)
			if ok != tt.wantOK {
				t.Fatalf("ok = %t, want %t", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if res.Text != tt.wantText {
				t.Errorf("text = %q, want %q", res.Text, tt.wantText)
			}
			if res.IsFinal != tt.final {
				t.Errorf("final = %t, want %t", res.IsFinal, tt.final)
			}
			if res.ID == "" {
				t.Error("result has no ID")
			}
			if !res.Received.Equal(now) {
				t.Errorf("received = %v, want %v", res.Received, now)
			}
		})
	}
}

func TestParseDeepgramMessageIDStableAcrossReplays(t *testing.T) {
	data := []byte(`{"type":"Results","is_final":true,"start":2.25,"duration":1.75,
		"channel":{"alternatives":[{"transcript":"again","confidence":0.9}]}}`)

	a, ok := parseDeepgramMessage(data, time.Now())
	if !ok {
		t.Fatal("first parse failed")
	}
	b, ok := parseDeepgramMessage(data, time.Now().Add(time.Minute))
	if !ok {
		t.Fatal("second parse failed")
	}
	if a.ID != b.ID {
		t.Errorf("replayed message changed ID: %q vs %q", a.ID, b.ID)
	}
}

func TestParseDeepgramMessageInterimAndFinalDiffer(t *testing.T) {
	interim := []byte(`{"type":"Results","is_final":false,"start":1,"duration":2,
		"channel":{"alternatives":[{"transcript":"x"}]}}`)
	final := []byte(`{"type":"Results","is_final":true,"start":1,"duration":2,
		"channel":{"alternatives":[{"transcript":"x"}]}}`)

	a, _ := parseDeepgramMessage(interim, time.Now())
	b, _ := parseDeepgramMessage(final, time.Now())
	if a.ID == b.ID {
		t.Errorf("interim and final over the same window share ID %q", a.ID)
	}
}

func TestDeepgramURL(t *testing.T) {
	got, err := deepgramURL(DefaultDeepgramEndpoint, StreamConfig{
		SampleRate:     16000,
		Channels:       1,
		Language:       "en-US",
		Model:          "nova-2",
		Punctuate:      true,
		InterimResults: true,
	})
	if err != nil {
		t.Fatalf("deepgramURL: %v", err)
	}

	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse built URL: %v", err)
	}
	if u.Scheme != "wss" || u.Path != "/v1/listen" {
		t.Errorf("url = %q, want wss scheme and /v1/listen path", got)
	}

	q := u.Query()
	want := map[string]string{
		"encoding":        "linear16",
		"sample_rate":     "16000",
		"channels":        "1",
		"language":        "en-US",
		"model":           "nova-2",
		"punctuate":       "true",
		"interim_results": "true",
	}
	for k, v := range want {
		if q.Get(k) != v {
			t.Errorf("param %s = %q, want %q", k, q.Get(k), v)
		}
	}
}

func TestDeepgramURLOmitsEmptyModelAndLanguage(t *testing.T) {
	got, err := deepgramURL(DefaultDeepgramEndpoint, StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("deepgramURL: %v", err)
	}
	if strings.Contains(got, "model=") || strings.Contains(got, "language=") {
		t.Errorf("url carries empty params: %q", got)
	}
	if !strings.Contains(got, "channels=1") {
		t.Errorf("url = %q, want channels defaulted to 1", got)
	}
}
