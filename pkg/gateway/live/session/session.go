package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-voice/pkg/core/llm"
	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
	"github.com/vango-go/vai-voice/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-voice/pkg/gateway/skills"
)

const (
	StatusReady = "Services initialized successfully. Start speaking!"

	outboundPriorityQueueSize = 8
)

var (
	errBackpressure  = errors.New("live outbound backpressure")
	errSessionClosed = errors.New("live session closed")
)

type Config struct {
	MaxMessageBytes      int64
	PingInterval         time.Duration
	WriteTimeout         time.Duration
	ReplyTimeout         time.Duration
	OutboundQueueSize    int
	HistoryMaxTurns      int
	HistoryMaxChars      int
	Chunker              ChunkerConfig
	SynthesisReadTimeout time.Duration
	Voice                tts.VoiceConfig
	FallbackText         string
	FallbackAudioURL     string
}

// Observer receives per-session measurements. Every method must be safe for
// concurrent use.
type Observer interface {
	ObserveAudioIn(bytes int)
	ObserveAudioOut(bytes int)
	ObserveChunk(final bool)
	ObserveSynthesis(status string, d time.Duration)
	ObserveReply(status string, d time.Duration)
}

type Dependencies struct {
	Conn          *websocket.Conn
	Logger        *slog.Logger
	SessionID     string
	RequestID     string
	Keys          protocol.ClientAPIKeys
	Transcription TranscriptionProvider
	Generator     llm.Generator
	Synthesis     SynthesisProvider
	Skills        *skills.Runner
	Observer      Observer
	Config        Config
	Now           func() time.Time
}

// VoiceSession is one active client conversation. Run owns the history and
// the utterance queue; replies run one at a time on a separate goroutine.
type VoiceSession struct {
	conn          wsConn
	logger        *slog.Logger
	sessionID     string
	keys          protocol.ClientAPIKeys
	transcription TranscriptionProvider
	generator     llm.Generator
	skills        *skills.Runner
	observer      Observer
	cfg           Config
	now           func() time.Time

	history *History
	bridge  *TranscriptionBridge
	synth   *SynthesisSerializer

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame
	closeCode        atomic.Int32
}

type wsConn interface {
	wsWriter
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

type replyResult struct {
	utterance string
	err       error
}

func New(deps Dependencies) (*VoiceSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	return newSession(deps.Conn, deps)
}

func newSession(conn wsConn, deps Dependencies) (*VoiceSession, error) {
	if deps.Transcription == nil {
		return nil, fmt.Errorf("transcription provider is required")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if deps.Synthesis == nil {
		return nil, fmt.Errorf("synthesis provider is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 256
	}
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = 5 * time.Second
	}
	if deps.Config.ReplyTimeout <= 0 {
		deps.Config.ReplyTimeout = 2 * time.Minute
	}
	logger := deps.Logger.With("session_id", deps.SessionID, "request_id", deps.RequestID)

	ctx, cancel := context.WithCancel(context.Background())
	history := NewHistory(deps.Config.HistoryMaxTurns, deps.Config.HistoryMaxChars)
	history.now = deps.Now
	s := &VoiceSession{
		conn:             conn,
		logger:           logger,
		sessionID:        deps.SessionID,
		keys:             deps.Keys,
		transcription:    deps.Transcription,
		generator:        deps.Generator,
		skills:           deps.Skills,
		observer:         deps.Observer,
		cfg:              deps.Config,
		now:              deps.Now,
		history:          history,
		bridge:           NewTranscriptionBridge(logger),
		synth:            NewSynthesisSerializer(deps.Synthesis, deps.Config.Voice, deps.Config.SynthesisReadTimeout, logger),
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
	}
	return s, nil
}

func (s *VoiceSession) ID() string {
	return s.sessionID
}

// History exposes the session's turn log. It must only be read after Run
// has returned.
func (s *VoiceSession) History() *History {
	return s.history
}

// Run drives the session until the client disconnects, a protocol error
// occurs, or the session is canceled. The connection is closed on return.
func (s *VoiceSession) Run() error {
	defer s.cancel()

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}

	writerErrCh := make(chan error, 1)
	go func() {
		w := outboundWriter{
			ws:           s.conn,
			ctx:          s.ctx,
			pingInterval: s.cfg.PingInterval,
			writeTimeout: s.cfg.WriteTimeout,
			priority:     s.outboundPriority,
			normal:       s.outboundNormal,
			closeCode:    func() int { return int(s.closeCode.Load()) },
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	var g errgroup.Group
	stream, err := s.transcription.Begin(s.ctx, s.keys.Get(protocol.KeySTT), s.bridge.Deliver)
	if err != nil {
		s.logger.Error("transcription connect failed", "error", err)
		_ = s.sendError("transcription_unavailable", "Failed to connect to the transcription service", websocket.CloseInternalServerErr)
		s.shutdown(nil, &g, writerErrCh)
		return fmt.Errorf("begin transcription: %w", err)
	}
	defer s.shutdown(stream, &g, writerErrCh)

	if err := s.sendJSON(protocol.ServerStatus{Type: protocol.TypeStatus, Message: StatusReady}); err != nil {
		return err
	}

	readCh := make(chan inboundFrame, 64)
	go s.readLoop(readCh)

	replyDone := make(chan replyResult, 1)
	assistantCh := make(chan string, 64)
	terminated := s.bridge.Terminated()

	var (
		queue    []string
		replying bool
	)
	startNext := func() {
		if replying || len(queue) == 0 || s.ctx.Err() != nil {
			return
		}
		utterance := queue[0]
		queue = queue[1:]
		prior := s.history.PromptMessages()
		s.history.AddUser(utterance)
		if err := s.sendJSON(protocol.ServerTranscript{Type: protocol.TypeTranscript, Text: utterance}); err != nil {
			s.logger.Warn("send transcript", "error", err)
		}
		replying = true
		g.Go(func() error {
			err := s.reply(s.ctx, utterance, prior, assistantCh)
			select {
			case replyDone <- replyResult{utterance: utterance, err: err}:
			case <-s.ctx.Done():
			}
			return nil
		})
	}
	drainAssistant := func() {
		for {
			select {
			case text := <-assistantCh:
				s.history.AddAssistant(text)
			default:
				return
			}
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err, ok := <-writerErrCh:
			if ok && err != nil {
				s.logger.Warn("live writer failed", "error", err)
				return err
			}
			return nil
		case in, ok := <-readCh:
			if !ok {
				return nil
			}
			if in.err != nil {
				if websocket.IsCloseError(in.err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					return nil
				}
				if s.ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("live read: %w", in.err)
			}
			if fatal := s.handleInbound(stream, in); fatal {
				return nil
			}
		case <-s.bridge.Ready():
			queue = append(queue, s.bridge.Drain()...)
			startNext()
		case text := <-assistantCh:
			s.history.AddAssistant(text)
		case res := <-replyDone:
			drainAssistant()
			replying = false
			if res.err != nil && !errors.Is(res.err, context.Canceled) {
				s.logger.Warn("reply failed", "error", res.err)
			}
			startNext()
		case <-terminated:
			s.logger.Info("transcription stream ended")
			terminated = nil
		}
	}
}

// handleInbound reports whether the frame ended the session.
func (s *VoiceSession) handleInbound(stream TranscriptionStream, in inboundFrame) bool {
	switch in.messageType {
	case websocket.BinaryMessage:
		s.observer.ObserveAudioIn(len(in.data))
		if err := stream.Stream(in.data); err != nil {
			s.logger.Debug("forward audio", "error", err)
		}
		return false
	case websocket.TextMessage:
		msg, err := protocol.DecodeClientMessage(in.data)
		if err != nil {
			var de *protocol.DecodeError
			code := "bad_request"
			if errors.As(err, &de) {
				code = de.Code
			}
			_ = s.sendError(code, err.Error(), websocket.ClosePolicyViolation)
			return true
		}
		if _, ok := msg.(protocol.ClientAPIKeys); ok {
			_ = s.sendError("already_configured", "API keys are already configured for this session", 0)
		}
		return false
	default:
		return false
	}
}

// shutdown releases every upstream resource. A reply still waiting on the
// model is abandoned after a short grace period; once the session context is
// done it can no longer reach the client or the synthesis service.
func (s *VoiceSession) shutdown(stream TranscriptionStream, g *errgroup.Group, writerErrCh <-chan error) {
	s.cancel()
	s.bridge.Close()
	if stream != nil {
		if err := stream.Terminate(); err != nil {
			s.logger.Debug("terminate transcription", "error", err)
		}
		if err := stream.Close(); err != nil {
			s.logger.Debug("close transcription", "error", err)
		}
	}
	s.synth.Close()

	wait := 100 * time.Millisecond
	if s.cfg.WriteTimeout < wait {
		wait = s.cfg.WriteTimeout
	}

	replies := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(replies)
	}()
	replyTimer := time.NewTimer(wait)
	defer replyTimer.Stop()
	select {
	case <-replies:
	case <-replyTimer.C:
		s.logger.Debug("abandoning in-flight reply")
	}

	flushTimer := time.NewTimer(wait)
	defer flushTimer.Stop()
	select {
	case <-writerErrCh:
	case <-flushTimer.C:
		_ = s.conn.Close()
	}
}

func (s *VoiceSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

// Cancel ends the session; Run returns shortly after.
func (s *VoiceSession) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// Notify sends a status message to the client.
func (s *VoiceSession) Notify(message string) error {
	if s == nil {
		return nil
	}
	return s.sendJSONPriority(protocol.ServerStatus{Type: protocol.TypeStatus, Message: message})
}

// sendError queues an error for the client. A non-zero closeCode ends the
// session after the error is flushed.
func (s *VoiceSession) sendError(code, message string, closeCode int) error {
	msg := protocol.ServerError{Type: protocol.TypeError, Code: code, Message: message, Close: closeCode != 0}
	if closeCode == 0 {
		return s.sendJSON(msg)
	}
	s.closeCode.Store(int32(closeCode))
	err := s.sendJSONPriority(msg)
	s.cancel()
	return err
}

func (s *VoiceSession) sendJSON(v any) error {
	frame, err := marshalFrame(v)
	if err != nil {
		return err
	}
	return s.enqueueNormal(frame)
}

func (s *VoiceSession) sendJSONPriority(v any) error {
	frame, err := marshalFrame(v)
	if err != nil {
		return err
	}
	return s.enqueuePriority(frame)
}

func marshalFrame(v any) (outboundFrame, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return outboundFrame{}, err
	}
	return outboundFrame{payload: payload}, nil
}

// enqueueNormal waits up to the write timeout for queue space. Frames queued
// after the session is closed are dropped.
func (s *VoiceSession) enqueueNormal(frame outboundFrame) error {
	if s.ctx.Err() != nil {
		return errSessionClosed
	}
	select {
	case s.outboundNormal <- frame:
		return nil
	default:
	}
	timer := time.NewTimer(s.cfg.WriteTimeout)
	defer timer.Stop()
	select {
	case s.outboundNormal <- frame:
		return nil
	case <-s.ctx.Done():
		return errSessionClosed
	case <-timer.C:
		return errBackpressure
	}
}

func (s *VoiceSession) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case s.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-s.outboundPriority:
		default:
		}
	}
	select {
	case s.outboundPriority <- frame:
		return nil
	default:
		return errBackpressure
	}
}

type nopObserver struct{}

func (nopObserver) ObserveAudioIn(int)                     {}
func (nopObserver) ObserveAudioOut(int)                    {}
func (nopObserver) ObserveChunk(bool)                      {}
func (nopObserver) ObserveSynthesis(string, time.Duration) {}
func (nopObserver) ObserveReply(string, time.Duration)     {}
