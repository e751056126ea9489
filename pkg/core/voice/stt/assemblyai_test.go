package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

type fakeAssemblyServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu        sync.Mutex
	authz     string
	query     map[string]string
	audio     [][]byte
	terminate bool
}

func (f *fakeAssemblyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.authz = r.Header.Get("Authorization")
	f.query = map[string]string{
		"sample_rate":  r.URL.Query().Get("sample_rate"),
		"encoding":     r.URL.Query().Get("encoding"),
		"format_turns": r.URL.Query().Get("format_turns"),
	}
	f.mu.Unlock()

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_ = conn.WriteJSON(map[string]any{"type": "Begin", "id": "sess-1"})
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt == websocket.BinaryMessage {
			f.mu.Lock()
			f.audio = append(f.audio, data)
			f.mu.Unlock()
			_ = conn.WriteJSON(map[string]any{"type": "Turn", "transcript": "what's the", "end_of_turn": false, "turn_is_formatted": false})
			_ = conn.WriteJSON(map[string]any{"type": "Turn", "transcript": "What's the weather?", "end_of_turn": true, "turn_is_formatted": true})
			continue
		}
		var msg map[string]any
		if json.Unmarshal(data, &msg) == nil && msg["type"] == "Terminate" {
			f.mu.Lock()
			f.terminate = true
			f.mu.Unlock()
			_ = conn.WriteJSON(map[string]any{"type": "Termination", "audio_duration_seconds": 1})
			return
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stream to finish")
	}
}

func TestNewStream_DeliversEventsInOrder(t *testing.T) {
	fake := &fakeAssemblyServer{t: t}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	var rec eventRecorder
	s, err := NewStream(context.Background(), StreamOptions{APIKey: "aai-key", URL: wsURL(srv)}, rec.handle)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer s.Close()

	if err := s.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(rec.snapshot()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	waitDone(t, s.Done())

	events := rec.snapshot()
	wantTypes := []EventType{EventBegin, EventTurn, EventTurn, EventTermination}
	if len(events) != len(wantTypes) {
		t.Fatalf("events=%+v, want types %v", events, wantTypes)
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Fatalf("events[%d].Type=%q, want %q", i, events[i].Type, want)
		}
	}
	if events[0].SessionID != "sess-1" {
		t.Fatalf("session id=%q", events[0].SessionID)
	}
	if events[1].EndOfTurn || events[1].Formatted {
		t.Fatalf("partial turn flagged final: %+v", events[1])
	}
	if !events[2].EndOfTurn || !events[2].Formatted || events[2].Text != "What's the weather?" {
		t.Fatalf("final turn=%+v", events[2])
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.authz != "aai-key" {
		t.Fatalf("Authorization=%q, want raw key", fake.authz)
	}
	if fake.query["sample_rate"] != "16000" || fake.query["encoding"] != "pcm_s16le" || fake.query["format_turns"] != "true" {
		t.Fatalf("query=%v", fake.query)
	}
	if len(fake.audio) != 1 || len(fake.audio[0]) != 4 {
		t.Fatalf("audio=%v, want one 4-byte frame forwarded unmodified", fake.audio)
	}
	if !fake.terminate {
		t.Fatalf("server never saw Terminate")
	}
}

func TestNewStream_UnexpectedDisconnectReportsErrorThenTermination(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "boom"), time.Now().Add(time.Second))
		_ = conn.Close()
	}))
	defer srv.Close()

	var rec eventRecorder
	s, err := NewStream(context.Background(), StreamOptions{APIKey: "k", URL: wsURL(srv)}, rec.handle)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer s.Close()
	waitDone(t, s.Done())

	events := rec.snapshot()
	if len(events) != 2 || events[0].Type != EventError || events[1].Type != EventTermination {
		t.Fatalf("events=%+v, want error then termination", events)
	}
}

func TestNewStream_HandshakeFailureIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewStream(context.Background(), StreamOptions{APIKey: "bad", URL: wsURL(srv)}, nil)
	if err == nil || !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("err=%v, want body in error", err)
	}
}

func TestNewStream_RequiresKey(t *testing.T) {
	if _, err := NewStream(context.Background(), StreamOptions{}, nil); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestStreamingSTT_SendAfterClose(t *testing.T) {
	fake := &fakeAssemblyServer{t: t}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s, err := NewStream(context.Background(), StreamOptions{APIKey: "k", URL: wsURL(srv)}, nil)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.SendAudio([]byte{0}); err != ErrStreamClosed {
		t.Fatalf("err=%v, want ErrStreamClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	waitDone(t, s.Done())
}
