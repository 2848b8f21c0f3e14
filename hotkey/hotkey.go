// Package hotkey provides a process-wide press/release edge source for a
// single configured trigger key or mouse button.
package hotkey

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	hook "github.com/robotn/gohook"
)

// EdgeKind discriminates press and release edges.
type EdgeKind int

const (
	Press EdgeKind = iota + 1
	Release
)

func (k EdgeKind) String() string {
	switch k {
	case Press:
		return "press"
	case Release:
		return "release"
	}
	return "unknown"
}

// Edge is a single trigger transition observed on the global hook.
type Edge struct {
	Kind EdgeKind
	At   time.Time
}

// Listener owns the process-wide input hook. Construct once at startup and
// Stop exactly once at exit; the underlying hook cannot be restarted.
type Listener struct {
	trigger trigger
	edges   chan Edge

	// suppressUntil ignores hook events while the injector is typing, so
	// synthetic keystrokes cannot retrigger a session.
	suppressUntil atomic.Int64

	stopOnce sync.Once
	done     chan struct{}
}

// trigger is the resolved form of the configured trigger name.
type trigger struct {
	name    string
	keycode uint16
	button  uint16 // nonzero for mouse triggers
}

// New resolves the trigger name against the hook's key and mouse tables.
// It does not start the hook; call Start.
func New(triggerName string) (*Listener, error) {
	t, err := resolveTrigger(triggerName)
	if err != nil {
		return nil, err
	}
	return &Listener{
		trigger: t,
		edges:   make(chan Edge, 8),
		done:    make(chan struct{}),
	}, nil
}

// Edges returns the edge channel. Edges may be dropped if the consumer lags;
// the channel is never closed before Stop.
func (l *Listener) Edges() <-chan Edge {
	return l.edges
}

// Start subscribes to the global hook and begins emitting edges. It returns
// an error if the OS refuses the hook (missing permission, no display); the
// caller should treat that as fatal configuration, not retry.
func (l *Listener) Start() error {
	events := hook.Start()
	if events == nil {
		return fmt.Errorf("hotkey: global input hook unavailable")
	}

	go l.run(events)
	return nil
}

// Stop unhooks from the OS. Idempotent.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		hook.End()
	})
}

// Suppress discards hook events until the given deadline. Called by the
// injection path around synthetic keystrokes.
func (l *Listener) Suppress(until time.Time) {
	l.suppressUntil.Store(until.UnixNano())
}

func (l *Listener) run(events <-chan hook.Event) {
	// The hook reports auto-repeat as KeyHold; only the first transition on
	// each side becomes an edge.
	down := false

	for {
		select {
		case <-l.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if time.Now().UnixNano() < l.suppressUntil.Load() {
				continue
			}

			kind, match := l.classify(ev, down)
			if !match {
				continue
			}
			down = kind == Press

			select {
			case l.edges <- Edge{Kind: kind, At: time.Now()}:
			default:
				slog.Warn("hotkey: edge dropped, consumer lagging", "kind", kind)
			}
		}
	}
}

// classify maps a raw hook event to an edge for our trigger, filtering
// auto-repeat using the current down state.
func (l *Listener) classify(ev hook.Event, down bool) (EdgeKind, bool) {
	if l.trigger.button != 0 {
		if ev.Button != l.trigger.button {
			return 0, false
		}
		switch ev.Kind {
		case hook.MouseDown:
			if down {
				return 0, false
			}
			return Press, true
		case hook.MouseUp:
			if !down {
				return 0, false
			}
			return Release, true
		}
		return 0, false
	}

	if ev.Keycode != l.trigger.keycode {
		return 0, false
	}
	switch ev.Kind {
	case hook.KeyDown, hook.KeyHold:
		if down {
			return 0, false
		}
		return Press, true
	case hook.KeyUp:
		if !down {
			return 0, false
		}
		return Release, true
	}
	return 0, false
}

func resolveTrigger(name string) (trigger, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return trigger{}, fmt.Errorf("hotkey: empty trigger")
	}

	if b, ok := hook.MouseMap[n]; ok {
		return trigger{name: n, button: b}, nil
	}
	if code, ok := hook.Keycode[n]; ok {
		return trigger{name: n, keycode: code}, nil
	}
	return trigger{}, fmt.Errorf("hotkey: unknown trigger %q", name)
}
