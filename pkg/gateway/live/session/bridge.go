package session

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/vango-go/vai-voice/pkg/core/voice/stt"
)

// TranscriptionBridge moves transcription callbacks from the STT read
// goroutine onto the session loop. Deliver never blocks on the loop: events
// are queued under a mutex and the loop is woken through Ready.
type TranscriptionBridge struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending []string
	closed  bool

	ready      chan struct{}
	terminated chan struct{}
	termOnce   sync.Once
}

func NewTranscriptionBridge(logger *slog.Logger) *TranscriptionBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &TranscriptionBridge{
		logger:     logger,
		ready:      make(chan struct{}, 1),
		terminated: make(chan struct{}),
	}
}

// Deliver is the stt.Handler for a session's stream.
func (b *TranscriptionBridge) Deliver(ev stt.Event) {
	switch ev.Type {
	case stt.EventBegin:
		b.logger.Debug("transcription session started", "stt_session_id", ev.SessionID)
	case stt.EventTurn:
		text := strings.TrimSpace(ev.Text)
		if !ev.EndOfTurn || !ev.Formatted || text == "" {
			return
		}
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return
		}
		b.pending = append(b.pending, text)
		b.mu.Unlock()
		select {
		case b.ready <- struct{}{}:
		default:
		}
	case stt.EventError:
		b.logger.Warn("transcription error", "error", ev.Err)
	case stt.EventTermination:
		b.logger.Debug("transcription terminated")
		b.termOnce.Do(func() { close(b.terminated) })
	}
}

// Ready receives a value whenever utterances may be waiting in Drain.
func (b *TranscriptionBridge) Ready() <-chan struct{} {
	return b.ready
}

// Terminated is closed once the transcription stream reports termination.
func (b *TranscriptionBridge) Terminated() <-chan struct{} {
	return b.terminated
}

// Drain returns every finalized utterance queued since the last call, in
// receipt order.
func (b *TranscriptionBridge) Drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}

// Close discards pending utterances and drops any later deliveries.
func (b *TranscriptionBridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.pending = nil
	b.mu.Unlock()
}
