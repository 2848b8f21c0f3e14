// Package config handles application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/joho/godotenv"
)

const (
	appName        = "hotmic"
	configFileName = "config.json"
)

// Engine names accepted by Config.Engine.
const (
	EngineDeepgram = "deepgram"
	EngineWhisper  = "whisper"
)

// Trigger modes.
const (
	ModeHold   = "hold"   // press starts, release stops
	ModeToggle = "toggle" // each press flips the session
)

// Config represents the application configuration.
type Config struct {
	Trigger    string `json:"trigger"`     // key or mouse button name, e.g. "alt", "f8", "mouse4"
	Mode       string `json:"mode"`        // "hold" or "toggle"
	DebounceMs int    `json:"debounce_ms"` // guard between press and accepted release
	Engine     string `json:"engine"`      // "deepgram" or "whisper"
	SampleRate int    `json:"sample_rate"` // capture sample rate in Hz
	FrameMs    int    `json:"frame_ms"`    // capture frame duration
	QueueDepth int    `json:"queue_depth"` // in-flight frame queue bound

	Deepgram  Deepgram  `json:"deepgram"`
	Whisper   Whisper   `json:"whisper"`
	Injector  Injector  `json:"injector"`
	Indicator Indicator `json:"indicator"`
	Log       Log       `json:"log"`
}

// Deepgram holds settings for the Deepgram live engine.
type Deepgram struct {
	APIKey         string `json:"api_key,omitempty"`
	Endpoint       string `json:"endpoint,omitempty"` // override for testing
	Model          string `json:"model"`
	Language       string `json:"language"`
	Punctuate      bool   `json:"punctuate"`
	InterimResults bool   `json:"interim_results"`
}

// Whisper holds settings for the batch Whisper engine.
type Whisper struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model"`
}

// Injector holds text injection settings.
type Injector struct {
	Tool           string `json:"tool"` // "auto", "xdotool" or "wtype"
	Mode           string `json:"mode"` // "type" or "clipboard"
	TypeDelayMs    int    `json:"type_delay_ms"`
	TrailingSpace  bool   `json:"trailing_space"`
	SpokenCommands bool   `json:"spoken_commands"` // "new line" etc. become key taps
}

// Indicator holds the indicator window geometry. Position is only the
// starting point; drags are not persisted.
type Indicator struct {
	X    int `json:"x"`
	Y    int `json:"y"`
	Size int `json:"size"`
}

// Log holds transcript log destinations.
type Log struct {
	File    string `json:"file"`    // append-only text log, empty for default
	History string `json:"history"` // badger history dir, empty for default
}

// Load loads configuration from the config file, then applies credential
// overrides from a .env file and the process environment. A missing config
// file yields defaults; it is not an error.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("get config path: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// keep defaults
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save persists the configuration to disk. Credentials sourced from the
// environment are not written back.
func (c *Config) Save() error {
	path, err := configPath()
	if err != nil {
		return fmt.Errorf("get config path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	out := *c
	out.Deepgram.APIKey = ""
	out.Whisper.APIKey = ""

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnv layers .env and process environment credentials over the file.
func (c *Config) applyEnv() {
	// Best effort: a missing .env is the common case.
	_ = godotenv.Load()

	if v := os.Getenv("DEEPGRAM_API_KEY"); v != "" {
		c.Deepgram.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Whisper.APIKey = v
	}
}

// Validate verifies config fields and returns an error if any value is invalid.
func (c *Config) Validate() error {
	if c.Trigger == "" {
		return fmt.Errorf("config: trigger required")
	}
	if c.Mode != ModeHold && c.Mode != ModeToggle {
		return fmt.Errorf("config: invalid mode %q (allowed: hold, toggle)", c.Mode)
	}
	if c.Engine != EngineDeepgram && c.Engine != EngineWhisper {
		return fmt.Errorf("config: invalid engine %q (allowed: deepgram, whisper)", c.Engine)
	}
	if c.DebounceMs < 0 {
		return fmt.Errorf("config: invalid debounce_ms %d (must be >= 0)", c.DebounceMs)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("config: invalid sample_rate %d (must be > 0)", c.SampleRate)
	}
	if c.FrameMs <= 0 {
		return fmt.Errorf("config: invalid frame_ms %d (must be > 0)", c.FrameMs)
	}
	if c.QueueDepth <= 0 {
		return fmt.Errorf("config: invalid queue_depth %d (must be > 0)", c.QueueDepth)
	}
	if !slices.Contains([]string{"auto", "xdotool", "wtype"}, c.Injector.Tool) {
		return fmt.Errorf("config: invalid injector tool %q (allowed: auto, xdotool, wtype)", c.Injector.Tool)
	}
	if c.Injector.Mode != "type" && c.Injector.Mode != "clipboard" {
		return fmt.Errorf("config: invalid injector mode %q (allowed: type, clipboard)", c.Injector.Mode)
	}
	if c.Indicator.Size <= 0 {
		return fmt.Errorf("config: invalid indicator size %d (must be > 0)", c.Indicator.Size)
	}
	return nil
}

// MissingCredential reports whether the selected engine has no API key, and
// names the environment variable that supplies one.
func (c *Config) MissingCredential() (string, bool) {
	switch c.Engine {
	case EngineDeepgram:
		if c.Deepgram.APIKey == "" {
			return "DEEPGRAM_API_KEY", true
		}
	case EngineWhisper:
		if c.Whisper.APIKey == "" {
			return "OPENAI_API_KEY", true
		}
	}
	return "", false
}

// LogFile returns the transcript log path, defaulting under the state dir.
func (c *Config) LogFile() (string, error) {
	if c.Log.File != "" {
		return c.Log.File, nil
	}
	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "transcripts.log"), nil
}

// HistoryDir returns the transcript history store path.
func (c *Config) HistoryDir() (string, error) {
	if c.Log.History != "" {
		return c.Log.History, nil
	}
	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history"), nil
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Trigger:    "alt",
		Mode:       ModeHold,
		DebounceMs: 500,
		Engine:     EngineDeepgram,
		SampleRate: 16000,
		FrameMs:    100,
		QueueDepth: 32,
		Deepgram: Deepgram{
			Model:          "nova-2",
			Language:       "en-US",
			Punctuate:      true,
			InterimResults: true,
		},
		Whisper: Whisper{
			Model: "whisper-1",
		},
		Injector: Injector{
			Tool:           "auto",
			Mode:           "type",
			TypeDelayMs:    10,
			TrailingSpace:  true,
			SpokenCommands: true,
		},
		Indicator: Indicator{
			X:    100,
			Y:    100,
			Size: 60,
		},
	}
}

func configPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, configFileName), nil
}

func stateDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName), nil
}
