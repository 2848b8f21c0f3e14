// Package inject delivers text into the OS-focused window by simulating
// keystrokes, with a clipboard-paste fallback mode.
package inject

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/atotto/clipboard"
)

// Config holds injection settings.
type Config struct {
	Tool           string // "auto", "xdotool" or "wtype"
	Mode           string // "type" or "clipboard"
	TypeDelayMs    int    // per-keystroke delay in type mode
	TrailingSpace  bool   // append a space after each injected fragment
	SpokenCommands bool   // translate "new line" etc. into key taps
}

// Typer injects text using an OS automation tool resolved at startup.
type Typer struct {
	cfg  Config
	tool string

	// suppress, when set, is told to ignore global input events until the
	// given time so synthetic keystrokes cannot retrigger the hotkey.
	suppress func(until time.Time)

	// run executes the tool; replaced in tests.
	run func(ctx context.Context, name string, args ...string) error
}

// New resolves the injection tool on PATH. An unusable configuration is a
// startup error; the caller should treat it as fatal.
func New(cfg Config) (*Typer, error) {
	tool, err := resolveTool(cfg.Tool)
	if err != nil {
		return nil, err
	}
	return &Typer{
		cfg:  cfg,
		tool: tool,
		run: func(ctx context.Context, name string, args ...string) error {
			out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("%s: %w (%s)", name, err, string(out))
			}
			return nil
		},
	}, nil
}

// Tool returns the resolved tool name.
func (t *Typer) Tool() string { return t.tool }

// SetSuppressFunc installs the hook-suppression callback.
func (t *Typer) SetSuppressFunc(f func(until time.Time)) {
	t.suppress = f
}

// Inject types the fragment into the focused window. Spoken keyboard
// commands inside the fragment become key taps when enabled. A failure
// affects only this fragment; the caller keeps transcribing.
func (t *Typer) Inject(ctx context.Context, text string) error {
	segments := []Segment{{Text: text}}
	if t.cfg.SpokenCommands {
		segments = ParseSegments(text)
	}

	for _, seg := range segments {
		if seg.Key != "" {
			for i := 0; i < max(seg.Count, 1); i++ {
				if err := t.tapKey(ctx, seg.Key); err != nil {
					return err
				}
			}
			continue
		}
		if seg.Text == "" {
			continue
		}
		out := seg.Text
		if t.cfg.TrailingSpace {
			out += " "
		}
		if err := t.deliver(ctx, out); err != nil {
			return err
		}
	}
	return nil
}

func (t *Typer) deliver(ctx context.Context, text string) error {
	if t.cfg.Mode == "clipboard" {
		if err := clipboard.WriteAll(text); err != nil {
			return fmt.Errorf("inject: set clipboard: %w", err)
		}
		return t.pasteChord(ctx)
	}
	return t.typeText(ctx, text)
}

func (t *Typer) typeText(ctx context.Context, text string) error {
	t.guard(text)
	switch t.tool {
	case "xdotool":
		return t.run(ctx, "xdotool",
			"type", "--clearmodifiers", "--delay", strconv.Itoa(t.cfg.TypeDelayMs), "--", text)
	case "wtype":
		return t.run(ctx, "wtype", "-d", strconv.Itoa(t.cfg.TypeDelayMs), "--", text)
	}
	return fmt.Errorf("inject: no tool resolved")
}

func (t *Typer) tapKey(ctx context.Context, key string) error {
	t.guard(key)
	switch t.tool {
	case "xdotool":
		return t.run(ctx, "xdotool", "key", "--clearmodifiers", key)
	case "wtype":
		return t.run(ctx, "wtype", "-k", key)
	}
	return fmt.Errorf("inject: no tool resolved")
}

func (t *Typer) pasteChord(ctx context.Context) error {
	t.guard("paste")
	switch t.tool {
	case "xdotool":
		return t.run(ctx, "xdotool", "key", "--clearmodifiers", "ctrl+v")
	case "wtype":
		return t.run(ctx, "wtype", "-M", "ctrl", "-k", "v", "-m", "ctrl")
	}
	return fmt.Errorf("inject: no tool resolved")
}

// guard widens the hook suppression window to cover the synthetic events,
// plus slack for events the tool delivers after it returns.
func (t *Typer) guard(payload string) {
	if t.suppress == nil {
		return
	}
	est := time.Duration(len(payload)*max(t.cfg.TypeDelayMs, 1))*time.Millisecond + 300*time.Millisecond
	t.suppress(time.Now().Add(est))
}

func resolveTool(name string) (string, error) {
	switch name {
	case "xdotool", "wtype":
		if _, err := exec.LookPath(name); err != nil {
			return "", fmt.Errorf("inject: configured tool %q not found on PATH", name)
		}
		return name, nil
	case "", "auto":
		for _, candidate := range []string{"xdotool", "wtype"} {
			if _, err := exec.LookPath(candidate); err == nil {
				return candidate, nil
			}
		}
		return "", fmt.Errorf("inject: no typing tool found on PATH (install xdotool or wtype)")
	}
	return "", fmt.Errorf("inject: unknown tool %q", name)
}

func init() {
	// atotto/clipboard logs nothing on unsupported platforms; make the
	// degraded mode visible once at startup instead of per fragment.
	if clipboard.Unsupported {
		slog.Warn("clipboard unsupported on this platform, clipboard mode will fail")
	}
}
