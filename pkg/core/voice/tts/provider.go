// Package tts streams text to a realtime speech synthesis service.
package tts

import "errors"

// ErrConnClosed is returned by Send after Close.
var ErrConnClosed = errors.New("tts: connection closed")

// VoiceConfig selects the voice for a connection.
type VoiceConfig struct {
	VoiceID string
	Style   string
}

// Options configures how a connection is dialed.
type Options struct {
	APIKey     string
	URL        string // default: DefaultMurfURL
	SampleRate int    // default: 44100
	Format     string // default: WAV
	Channel    string // default: MONO
}

// Message is one response from the synthesis service. Audio may be empty on
// the final message.
type Message struct {
	Audio []byte
	Final bool
}
