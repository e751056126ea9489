package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
)

var (
	ErrSynthesisTimeout = errors.New("synthesis read timed out")
	errSerializerClosed = errors.New("synthesis serializer closed")
)

// AudioSink receives each audio payload as soon as it arrives.
type AudioSink func(audio []byte) error

// SynthesisSerializer runs at most one synthesis job at a time for a
// session. Synthesize blocks while another job is in flight; each job opens
// a fresh connection and always closes it before returning.
type SynthesisSerializer struct {
	provider    SynthesisProvider
	voice       tts.VoiceConfig
	readTimeout time.Duration
	logger      *slog.Logger

	jobMu sync.Mutex

	connMu sync.Mutex
	conn   SynthesisConn
	closed bool
}

func NewSynthesisSerializer(provider SynthesisProvider, voice tts.VoiceConfig, readTimeout time.Duration, logger *slog.Logger) *SynthesisSerializer {
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SynthesisSerializer{
		provider:    provider,
		voice:       voice,
		readTimeout: readTimeout,
		logger:      logger,
	}
}

// Synthesize sends text and forwards audio to sink until the service marks
// the job final, a read times out, or the connection ends. It returns the
// number of audio bytes forwarded. Blank text is skipped.
func (s *SynthesisSerializer) Synthesize(ctx context.Context, text string, isFinal bool, sink AudioSink) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	conn, err := s.open(ctx)
	if err != nil {
		return 0, err
	}
	defer s.release(conn)

	if err := conn.Send(ctx, text, isFinal); err != nil {
		return 0, fmt.Errorf("synthesis send: %w", err)
	}

	forwarded := 0
	for {
		readCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
		msg, err := conn.Recv(readCtx)
		cancel()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return forwarded, ctx.Err()
			case errors.Is(err, context.DeadlineExceeded):
				return forwarded, ErrSynthesisTimeout
			case errors.Is(err, io.EOF):
				return forwarded, nil
			default:
				return forwarded, fmt.Errorf("synthesis recv: %w", err)
			}
		}
		if len(msg.Audio) > 0 && sink != nil {
			if err := sink(msg.Audio); err != nil {
				return forwarded, err
			}
			forwarded += len(msg.Audio)
		}
		if msg.Final {
			return forwarded, nil
		}
	}
}

func (s *SynthesisSerializer) open(ctx context.Context) (SynthesisConn, error) {
	s.connMu.Lock()
	if s.closed {
		s.connMu.Unlock()
		return nil, errSerializerClosed
	}
	s.connMu.Unlock()

	conn, err := s.provider.Open(ctx, s.voice)
	if err != nil {
		return nil, fmt.Errorf("open synthesis connection: %w", err)
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed {
		_ = conn.Close()
		return nil, errSerializerClosed
	}
	s.conn = conn
	return conn, nil
}

func (s *SynthesisSerializer) release(conn SynthesisConn) {
	s.connMu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.connMu.Unlock()
	if err := conn.Close(); err != nil {
		s.logger.Debug("close synthesis connection", "error", err)
	}
}

// Close releases the in-flight connection, if any, and rejects later jobs.
// It does not wait for the running job; that job's Recv fails and it returns.
func (s *SynthesisSerializer) Close() {
	s.connMu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debug("close synthesis connection", "error", err)
		}
	}
}
