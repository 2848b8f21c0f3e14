package hotkey

import (
	"testing"

	hook "github.com/robotn/gohook"
)

func TestResolveTrigger(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
		mouse   bool
	}{
		{"key by name", "alt", false, false},
		{"function key", "f8", false, false},
		{"uppercase normalized", " ALT ", false, false},
		{"empty", "", true, false},
		{"unknown", "hyperkey", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := resolveTrigger(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveTrigger(%q) error = %v, wantErr %t", tt.in, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if tt.mouse && tr.button == 0 {
				t.Errorf("resolveTrigger(%q) did not resolve a mouse button", tt.in)
			}
			if !tt.mouse && tr.keycode == 0 && tr.button == 0 {
				t.Errorf("resolveTrigger(%q) resolved nothing", tt.in)
			}
		})
	}
}

func TestClassifyKeyEdges(t *testing.T) {
	l := &Listener{trigger: trigger{name: "alt", keycode: hook.Keycode["alt"]}}
	code := l.trigger.keycode

	tests := []struct {
		name     string
		ev       hook.Event
		down     bool
		wantKind EdgeKind
		wantOK   bool
	}{
		{"key down", hook.Event{Kind: hook.KeyDown, Keycode: code}, false, Press, true},
		{"auto-repeat while down", hook.Event{Kind: hook.KeyHold, Keycode: code}, true, 0, false},
		{"hold while up counts as press", hook.Event{Kind: hook.KeyHold, Keycode: code}, false, Press, true},
		{"key up", hook.Event{Kind: hook.KeyUp, Keycode: code}, true, Release, true},
		{"stray key up", hook.Event{Kind: hook.KeyUp, Keycode: code}, false, 0, false},
		{"other key", hook.Event{Kind: hook.KeyDown, Keycode: code + 1}, false, 0, false},
		{"mouse event ignored for key trigger", hook.Event{Kind: hook.MouseDown, Button: 1}, false, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := l.classify(tt.ev, tt.down)
			if ok != tt.wantOK || kind != tt.wantKind {
				t.Errorf("classify = (%v, %t), want (%v, %t)", kind, ok, tt.wantKind, tt.wantOK)
			}
		})
	}
}

func TestClassifyMouseEdges(t *testing.T) {
	l := &Listener{trigger: trigger{name: "mouse4", button: 4}}

	tests := []struct {
		name     string
		ev       hook.Event
		down     bool
		wantKind EdgeKind
		wantOK   bool
	}{
		{"button down", hook.Event{Kind: hook.MouseDown, Button: 4}, false, Press, true},
		{"button up", hook.Event{Kind: hook.MouseUp, Button: 4}, true, Release, true},
		{"repeated down", hook.Event{Kind: hook.MouseDown, Button: 4}, true, 0, false},
		{"other button", hook.Event{Kind: hook.MouseDown, Button: 1}, false, 0, false},
		{"key event ignored for mouse trigger", hook.Event{Kind: hook.KeyDown, Keycode: 56}, false, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := l.classify(tt.ev, tt.down)
			if ok != tt.wantOK || kind != tt.wantKind {
				t.Errorf("classify = (%v, %t), want (%v, %t)", kind, ok, tt.wantKind, tt.wantOK)
			}
		})
	}
}
