package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
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

const DefaultMurfURL = "wss://api.murf.ai/v1/speech/stream-input"

// MurfConn is one Murf streaming connection. Send and Recv may be called
// from different goroutines; Close may be called at any time.
type MurfConn struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once

	msgs    chan Message
	done    chan struct{}
	errMu   sync.Mutex
	readErr error
}

type murfVoiceConfig struct {
	VoiceConfig struct {
		VoiceID string `json:"voiceId"`
		Style   string `json:"style,omitempty"`
	} `json:"voice_config"`
}

type murfText struct {
	Text string `json:"text"`
	End  bool   `json:"end"`
}

type murfResponse struct {
	Audio string `json:"audio"`
	Final bool   `json:"final"`
	Error string `json:"error"`
}

// Open dials Murf and sends the voice configuration.
func Open(ctx context.Context, opts Options, voice VoiceConfig) (*MurfConn, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("tts: api key is required")
	}
	if strings.TrimSpace(voice.VoiceID) == "" {
		return nil, fmt.Errorf("tts: voice id is required")
	}
	rawURL := strings.TrimSpace(opts.URL)
	if rawURL == "" {
		rawURL = DefaultMurfURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse tts url: %w", err)
	}
	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	format := opts.Format
	if format == "" {
		format = "WAV"
	}
	channel := opts.Channel
	if channel == "" {
		channel = "MONO"
	}
	q := u.Query()
	q.Set("api-key", opts.APIKey)
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channel_type", channel)
	q.Set("format", format)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
			if len(body) > 0 {
				return nil, fmt.Errorf("tts websocket connect (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			return nil, fmt.Errorf("tts websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("tts websocket connect: %w", err)
	}

	c := &MurfConn{
		conn: conn,
		msgs: make(chan Message, 64),
		done: make(chan struct{}),
	}

	var vc murfVoiceConfig
	vc.VoiceConfig.VoiceID = voice.VoiceID
	vc.VoiceConfig.Style = voice.Style
	if err := c.writeJSON(ctx, vc); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("send voice config: %w", err)
	}

	go c.readLoop()
	return c, nil
}

func (c *MurfConn) readLoop() {
	defer close(c.msgs)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.setReadErr(io.EOF)
			} else {
				c.setReadErr(fmt.Errorf("tts read: %w", err))
			}
			return
		}
		var resp murfResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			c.setReadErr(fmt.Errorf("tts server error: %s", resp.Error))
			return
		}
		msg := Message{Final: resp.Final}
		if resp.Audio != "" {
			audio, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				continue
			}
			msg.Audio = audio
		}
		if len(msg.Audio) == 0 && !msg.Final {
			continue
		}
		select {
		case c.msgs <- msg:
		case <-c.done:
			c.setReadErr(io.EOF)
			return
		}
	}
}

func (c *MurfConn) setReadErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil {
		c.readErr = err
	}
}

func (c *MurfConn) err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil {
		return io.EOF
	}
	return c.readErr
}

// Send submits text. end marks the last text of this connection's request.
func (c *MurfConn) Send(ctx context.Context, text string, end bool) error {
	return c.writeJSON(ctx, murfText{Text: text, End: end})
}

// Recv returns the next message. It returns io.EOF once the connection has
// closed cleanly, or ctx's error when ctx ends first.
func (c *MurfConn) Recv(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-c.msgs:
		if !ok {
			return Message{}, c.err()
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *MurfConn) writeJSON(ctx context.Context, v any) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteJSON(v)
}

// Close releases the connection. It is safe to call more than once.
func (c *MurfConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
