package session

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/llm"
	"github.com/vango-go/vai-voice/pkg/core/voice/stt"
	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
)

type fakeTranscription struct {
	mu         sync.Mutex
	handler    stt.Handler
	apiKey     string
	audio      [][]byte
	terminated bool
	closed     bool
	err        error
	begun      chan struct{}
}

func newFakeTranscription() *fakeTranscription {
	return &fakeTranscription{begun: make(chan struct{})}
}

func (f *fakeTranscription) Begin(ctx context.Context, apiKey string, handler stt.Handler) (TranscriptionStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.handler = handler
	f.apiKey = apiKey
	f.mu.Unlock()
	close(f.begun)
	return f, nil
}

func (f *fakeTranscription) Stream(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, append([]byte(nil), audio...))
	return nil
}

func (f *fakeTranscription) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = true
	return nil
}

func (f *fakeTranscription) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTranscription) say(text string) {
	<-f.begun
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(stt.Event{Type: stt.EventTurn, Text: text})
	h(stt.Event{Type: stt.EventTurn, Text: text, EndOfTurn: true})
	h(stt.Event{Type: stt.EventTurn, Text: text, EndOfTurn: true, Formatted: true})
}

func (f *fakeTranscription) audioFrames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

func (f *fakeTranscription) released() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated, f.closed
}

type fakeSynthesis struct {
	mu      sync.Mutex
	opened  int
	texts   []string
	openErr error
	// hang makes Recv block until the context ends or the conn is closed.
	hang      bool
	sendDelay time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakeSynthesis) Open(ctx context.Context, voice tts.VoiceConfig) (SynthesisConn, error) {
	f.mu.Lock()
	f.opened++
	err := f.openErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	n := f.active.Add(1)
	for {
		cur := f.maxActive.Load()
		if n <= cur || f.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	return &fakeSynthConn{parent: f, msgs: make(chan tts.Message, 4), closed: make(chan struct{})}, nil
}

func (f *fakeSynthesis) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeSynthConn struct {
	parent    *fakeSynthesis
	msgs      chan tts.Message
	closeOnce sync.Once
	closed    chan struct{}
}

func (c *fakeSynthConn) Send(ctx context.Context, text string, isFinal bool) error {
	c.parent.mu.Lock()
	c.parent.texts = append(c.parent.texts, text)
	hang := c.parent.hang
	delay := c.parent.sendDelay
	c.parent.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if !hang {
		c.msgs <- tts.Message{Audio: []byte("pcm:" + text)}
		c.msgs <- tts.Message{Final: true}
	}
	return nil
}

func (c *fakeSynthConn) Recv(ctx context.Context) (tts.Message, error) {
	select {
	case msg := <-c.msgs:
		return msg, nil
	case <-c.closed:
		return tts.Message{}, tts.ErrConnClosed
	case <-ctx.Done():
		return tts.Message{}, ctx.Err()
	}
}

func (c *fakeSynthConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.parent.active.Add(-1)
	})
	return nil
}

type fakeReply struct {
	fragments []string
	err       error
}

type fakeGenerator struct {
	mu        sync.Mutex
	histories [][]llm.Message
	prompts   []string
	replies   func(prompt string) fakeReply
	startErr  error
}

func (g *fakeGenerator) StartChat(ctx context.Context, history []llm.Message) (llm.Chat, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.histories = append(g.histories, append([]llm.Message(nil), history...))
	if g.startErr != nil {
		return nil, g.startErr
	}
	return &fakeChat{g: g}, nil
}

func (g *fakeGenerator) snapshot() ([][]llm.Message, []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]llm.Message(nil), g.histories...), append([]string(nil), g.prompts...)
}

type fakeChat struct {
	g *fakeGenerator
}

func (c *fakeChat) SendStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	c.g.mu.Lock()
	c.g.prompts = append(c.g.prompts, prompt)
	reply := fakeReply{err: errors.New("no reply configured")}
	if c.g.replies != nil {
		reply = c.g.replies(prompt)
	}
	c.g.mu.Unlock()
	return func(yield func(string, error) bool) {
		for _, f := range reply.fragments {
			if !yield(f, nil) {
				return
			}
		}
		if reply.err != nil {
			yield("", reply.err)
		}
	}
}
