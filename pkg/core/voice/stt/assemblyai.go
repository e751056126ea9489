package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultAssemblyAIURL = "wss://streaming.assemblyai.com/v3/ws"

var ErrStreamClosed = errors.New("stt: stream closed")

// StreamingSTT is a live AssemblyAI v3 streaming session.
type StreamingSTT struct {
	conn    *websocket.Conn
	handler Handler

	writeMu    sync.Mutex
	closed     atomic.Bool
	terminated atomic.Bool
	done       chan struct{}
}

type assemblyMessage struct {
	Type            string `json:"type"`
	ID              string `json:"id"`
	Transcript      string `json:"transcript"`
	EndOfTurn       bool   `json:"end_of_turn"`
	TurnIsFormatted bool   `json:"turn_is_formatted"`
	Error           string `json:"error"`
}

// NewStream dials the transcription service and starts delivering events to
// handler. The caller must Close the stream.
func NewStream(ctx context.Context, opts StreamOptions, handler Handler) (*StreamingSTT, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("stt: api key is required")
	}
	if handler == nil {
		handler = func(Event) {}
	}
	rawURL := strings.TrimSpace(opts.URL)
	if rawURL == "" {
		rawURL = DefaultAssemblyAIURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse stt url: %w", err)
	}
	q := u.Query()
	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	encoding := opts.Encoding
	if encoding == "" {
		encoding = "pcm_s16le"
	}
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("encoding", encoding)
	q.Set("format_turns", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", opts.APIKey)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
			if len(body) > 0 {
				return nil, fmt.Errorf("stt websocket connect (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			return nil, fmt.Errorf("stt websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("stt websocket connect: %w", err)
	}

	s := &StreamingSTT{
		conn:    conn,
		handler: handler,
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *StreamingSTT) readLoop() {
	defer close(s.done)
	sawTermination := false
	defer func() {
		if !sawTermination && !s.closed.Load() {
			s.handler(Event{Type: EventTermination})
		}
	}()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.handler(Event{Type: EventError, Err: fmt.Errorf("stt read: %w", err)})
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var msg assemblyMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			s.handler(Event{Type: EventError, Err: fmt.Errorf("stt server error: %s", msg.Error)})
			continue
		}
		switch msg.Type {
		case "Begin":
			s.handler(Event{Type: EventBegin, SessionID: msg.ID})
		case "Turn":
			s.handler(Event{
				Type:      EventTurn,
				Text:      msg.Transcript,
				EndOfTurn: msg.EndOfTurn,
				Formatted: msg.TurnIsFormatted,
			})
		case "Termination":
			sawTermination = true
			s.handler(Event{Type: EventTermination})
			return
		}
	}
}

// SendAudio forwards raw PCM bytes unmodified.
func (s *StreamingSTT) SendAudio(data []byte) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Terminate asks the service to finish the session. The service answers
// with a Termination message, after which Done is closed.
func (s *StreamingSTT) Terminate() error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	if s.terminated.Swap(true) {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Terminate"}`))
}

// Done is closed when the read loop exits.
func (s *StreamingSTT) Done() <-chan struct{} {
	return s.done
}

// Close terminates the session if needed and releases the connection.
// Read errors caused by Close are not reported to the handler.
func (s *StreamingSTT) Close() error {
	if s.closed.Load() {
		return nil
	}
	_ = s.Terminate()
	if s.closed.Swap(true) {
		return nil
	}

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.writeMu.Unlock()

	return s.conn.Close()
}
