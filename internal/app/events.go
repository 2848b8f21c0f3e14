package app

// Event names for frontend communication.
const (
	EventSessionState = "session-state"
	EventTranscript   = "transcript"
)
