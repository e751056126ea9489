package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/vango-go/vai-voice/pkg/core/llm"
	"github.com/vango-go/vai-voice/pkg/gateway/live/protocol"
)

// reply answers one utterance: enrichment, streamed generation, chunking and
// serialized synthesis. Assistant text is handed back to the loop through
// assistantCh; the loop is the only writer of history.
func (s *VoiceSession) reply(ctx context.Context, utterance string, prior []llm.Message, assistantCh chan<- string) error {
	start := s.now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReplyTimeout)
	defer cancel()

	prompt := utterance
	if s.skills != nil {
		enr := s.skills.Enrich(ctx, utterance)
		prompt = enr.Prompt
		if enr.Task != nil && enr.Task.Created {
			task := enr.Task.Task
			if err := s.sendJSON(protocol.ServerTaskCreated{
				Type:    protocol.TypeTaskCreated,
				Task:    protocol.TaskInfo{TaskID: task.ID, Content: task.Content, URL: task.URL},
				Message: fmt.Sprintf("Task created: %s", task.Content),
			}); err != nil {
				return err
			}
		}
	}

	audioBytes := 0
	sink := func(audio []byte) error {
		audioBytes += len(audio)
		s.observer.ObserveAudioOut(len(audio))
		return s.sendJSON(protocol.ServerAudioChunk{
			Type:  protocol.TypeAudioChunk,
			Audio: base64.StdEncoding.EncodeToString(audio),
		})
	}
	emit := func(c Chunk, remember bool) error {
		if err := s.sendJSON(protocol.ServerAIResponse{Type: protocol.TypeAIResponse, Text: c.Text, IsFinal: c.IsFinal}); err != nil {
			return err
		}
		s.observer.ObserveChunk(c.IsFinal)
		if remember && c.Text != "" {
			select {
			case assistantCh <- c.Text:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		s.synthesize(ctx, c, sink)
		return ctx.Err()
	}

	genErr := s.generate(ctx, prior, prompt, emit)
	switch {
	case genErr == nil:
	case s.ctx.Err() != nil:
		s.observer.ObserveReply("canceled", s.now().Sub(start))
		return genErr
	default:
		s.logger.Warn("generation failed", "error", genErr)
		if err := emit(Chunk{Text: s.cfg.FallbackText, IsFinal: true}, false); err != nil {
			return err
		}
	}

	if audioBytes == 0 && s.cfg.FallbackAudioURL != "" {
		if err := s.sendJSON(protocol.ServerFallbackAudio{Type: protocol.TypeFallbackAudio, URL: s.cfg.FallbackAudioURL}); err != nil {
			return err
		}
	}
	status := "ok"
	if genErr != nil {
		status = "fallback"
	}
	s.observer.ObserveReply(status, s.now().Sub(start))
	return nil
}

// generate streams the model reply through a fresh chunker. The chat is
// rebuilt from history on every call, so a failed stream leaves nothing
// behind for the next utterance. A generation error is returned before the
// final chunk is emitted so the caller can substitute fallback text.
func (s *VoiceSession) generate(ctx context.Context, prior []llm.Message, prompt string, emit func(Chunk, bool) error) error {
	chat, err := s.generator.StartChat(ctx, prior)
	if err != nil {
		return fmt.Errorf("start chat: %w", err)
	}
	chunker := NewResponseChunker(s.cfg.Chunker, s.now)
	for fragment, err := range chat.SendStream(ctx, prompt) {
		if err != nil {
			return err
		}
		if c, ok := chunker.Feed(fragment); ok {
			if err := emit(c, true); err != nil {
				return err
			}
		}
	}
	return emit(chunker.Finish(), true)
}

func (s *VoiceSession) synthesize(ctx context.Context, c Chunk, sink AudioSink) {
	start := s.now()
	n, err := s.synth.Synthesize(ctx, c.Text, c.IsFinal, sink)
	status := "ok"
	switch {
	case err == nil && n == 0:
		status = "empty"
	case errors.Is(err, ErrSynthesisTimeout):
		status = "timeout"
	case err != nil && ctx.Err() != nil:
		status = "canceled"
	case err != nil:
		status = "error"
	}
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("synthesis failed", "error", err, "bytes", n)
	}
	s.observer.ObserveSynthesis(status, s.now().Sub(start))
}
