// Package types holds value types shared between the app service and the
// frontend bindings.
package types

// StatusEvent reflects the controller state for the indicator surface.
// Color is derived, never stored: green iff listening.
type StatusEvent struct {
	State  string `json:"state"`
	Color  string `json:"color"`
	Detail string `json:"detail,omitempty"`
}

// TranscriptEvent is a transcript fragment pushed to the UI. Final marks a
// committed fragment; non-final fragments are preview only.
type TranscriptEvent struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// TranscriptRow is one history entry shown in the transcript window.
type TranscriptRow struct {
	ID   string `json:"id"`
	Time string `json:"time"`
	Text string `json:"text"`
}
