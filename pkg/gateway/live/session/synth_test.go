package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
)

func TestSynthesisSerializer_ForwardsAudioAndClosesConnection(t *testing.T) {
	fs := &fakeSynthesis{}
	s := NewSynthesisSerializer(fs, tts.VoiceConfig{VoiceID: "en-US-natalie"}, time.Second, nil)

	var got []string
	n, err := s.Synthesize(context.Background(), "Hello there.", false, func(audio []byte) error {
		got = append(got, string(audio))
		return nil
	})
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	if n != len("pcm:Hello there.") || len(got) != 1 || got[0] != "pcm:Hello there." {
		t.Fatalf("n=%d got=%q", n, got)
	}
	if active := fs.active.Load(); active != 0 {
		t.Fatalf("active connections=%d, want 0", active)
	}
}

func TestSynthesisSerializer_SkipsBlankText(t *testing.T) {
	fs := &fakeSynthesis{}
	s := NewSynthesisSerializer(fs, tts.VoiceConfig{}, time.Second, nil)
	n, err := s.Synthesize(context.Background(), "  ", true, nil)
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v, want 0 nil", n, err)
	}
	if fs.opened != 0 {
		t.Fatalf("opened=%d, want 0", fs.opened)
	}
}

func TestSynthesisSerializer_JobsNeverOverlap(t *testing.T) {
	fs := &fakeSynthesis{sendDelay: 5 * time.Millisecond}
	s := NewSynthesisSerializer(fs, tts.VoiceConfig{}, time.Second, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Synthesize(context.Background(), fmt.Sprintf("chunk %d", i), false, func([]byte) error { return nil }); err != nil {
				t.Errorf("Synthesize(%d) error: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if peak := fs.maxActive.Load(); peak != 1 {
		t.Fatalf("max concurrent connections=%d, want 1", peak)
	}
	if fs.opened != 8 {
		t.Fatalf("opened=%d, want 8", fs.opened)
	}
}

func TestSynthesisSerializer_ReadTimeout(t *testing.T) {
	fs := &fakeSynthesis{hang: true}
	s := NewSynthesisSerializer(fs, tts.VoiceConfig{}, 20*time.Millisecond, nil)

	_, err := s.Synthesize(context.Background(), "never answered", false, nil)
	if !errors.Is(err, ErrSynthesisTimeout) {
		t.Fatalf("err=%v, want ErrSynthesisTimeout", err)
	}
	if active := fs.active.Load(); active != 0 {
		t.Fatalf("active connections=%d, want 0", active)
	}
}

func TestSynthesisSerializer_FailureDoesNotBlockNextJob(t *testing.T) {
	fs := &fakeSynthesis{openErr: errors.New("dial refused")}
	s := NewSynthesisSerializer(fs, tts.VoiceConfig{}, time.Second, nil)

	if _, err := s.Synthesize(context.Background(), "first", false, nil); err == nil {
		t.Fatalf("expected open error")
	}

	fs.mu.Lock()
	fs.openErr = nil
	fs.mu.Unlock()

	n, err := s.Synthesize(context.Background(), "second", true, func([]byte) error { return nil })
	if err != nil || n == 0 {
		t.Fatalf("n=%d err=%v, want audio from fresh connection", n, err)
	}
	if fs.opened != 2 {
		t.Fatalf("opened=%d, want 2", fs.opened)
	}
}

func TestSynthesisSerializer_CloseReleasesInFlightJob(t *testing.T) {
	fs := &fakeSynthesis{hang: true}
	s := NewSynthesisSerializer(fs, tts.VoiceConfig{}, time.Minute, nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.Synthesize(context.Background(), "long job", false, nil)
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for fs.active.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("job never opened a connection")
		}
		time.Sleep(time.Millisecond)
	}
	s.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected error after Close")
		}
	case <-time.After(time.Second):
		t.Fatalf("Synthesize did not return after Close")
	}
	if _, err := s.Synthesize(context.Background(), "after close", false, nil); !errors.Is(err, errSerializerClosed) {
		t.Fatalf("err=%v, want errSerializerClosed", err)
	}
}
