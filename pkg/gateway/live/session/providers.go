package session

import (
	"context"

	"github.com/vango-go/vai-voice/pkg/core/voice/stt"
	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
)

type TranscriptionStream interface {
	Stream(audio []byte) error
	Terminate() error
	Close() error
}

// TranscriptionProvider opens a live transcription stream. handler is called
// from the stream's own goroutine.
type TranscriptionProvider interface {
	Begin(ctx context.Context, apiKey string, handler stt.Handler) (TranscriptionStream, error)
}

type SynthesisConn interface {
	Send(ctx context.Context, text string, isFinal bool) error
	Recv(ctx context.Context) (tts.Message, error)
	Close() error
}

// SynthesisProvider dials one synthesis connection per call.
type SynthesisProvider interface {
	Open(ctx context.Context, voice tts.VoiceConfig) (SynthesisConn, error)
}

// AssemblyAITranscription adapts stt.NewStream to TranscriptionProvider.
type AssemblyAITranscription struct {
	URL        string
	SampleRate int
}

func (p AssemblyAITranscription) Begin(ctx context.Context, apiKey string, handler stt.Handler) (TranscriptionStream, error) {
	s, err := stt.NewStream(ctx, stt.StreamOptions{
		APIKey:     apiKey,
		URL:        p.URL,
		SampleRate: p.SampleRate,
	}, handler)
	if err != nil {
		return nil, err
	}
	return assemblyStream{s}, nil
}

type assemblyStream struct {
	*stt.StreamingSTT
}

func (s assemblyStream) Stream(audio []byte) error {
	return s.SendAudio(audio)
}

// MurfSynthesis adapts tts.Open to SynthesisProvider.
type MurfSynthesis struct {
	APIKey     string
	URL        string
	SampleRate int
}

func (p MurfSynthesis) Open(ctx context.Context, voice tts.VoiceConfig) (SynthesisConn, error) {
	c, err := tts.Open(ctx, tts.Options{
		APIKey:     p.APIKey,
		URL:        p.URL,
		SampleRate: p.SampleRate,
	}, voice)
	if err != nil {
		return nil, err
	}
	return murfConn{c}, nil
}

type murfConn struct {
	*tts.MurfConn
}

// Send always ends the synthesis context: every job owns its connection, and
// the service only reports a final message once the context has ended.
func (c murfConn) Send(ctx context.Context, text string, _ bool) error {
	return c.MurfConn.Send(ctx, text, true)
}
