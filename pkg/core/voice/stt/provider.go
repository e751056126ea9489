// Package stt streams live audio to a realtime transcription service.
package stt

type EventType string

const (
	EventBegin       EventType = "begin"
	EventTurn        EventType = "turn"
	EventTermination EventType = "termination"
	EventError       EventType = "error"
)

// Event is one transcription callback. Turn events carry partial and final
// text; only turns with EndOfTurn and Formatted set are stable.
type Event struct {
	Type      EventType
	SessionID string
	Text      string
	EndOfTurn bool
	Formatted bool
	Err       error
}

// Handler receives events on the stream's read goroutine, in receipt order.
type Handler func(Event)

// StreamOptions configures a streaming session.
type StreamOptions struct {
	APIKey     string
	URL        string // default: DefaultAssemblyAIURL
	SampleRate int    // default: 16000
	Encoding   string // default: pcm_s16le
}
