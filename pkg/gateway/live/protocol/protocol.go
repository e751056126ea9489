package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Client message types.
const (
	TypeAPIKeys = "api_keys"
)

// Server message types.
const (
	TypeStatus        = "status"
	TypeError         = "error"
	TypeTranscript    = "transcript"
	TypeAIResponse    = "ai_response"
	TypeAudioChunk    = "audio_chunk"
	TypeTaskCreated   = "task_created"
	TypeFallbackAudio = "fallback_audio"
)

// Credential names carried in an api_keys message.
const (
	KeySTT     = "stt"
	KeyTTS     = "tts"
	KeyLLM     = "llm"
	KeySearch  = "search"
	KeyWeather = "weather"
	KeyNews    = "news"
	KeyTasks   = "tasks"
)

// RequiredKeys must all be present before a session becomes active.
var RequiredKeys = []string{KeySTT, KeyTTS, KeyLLM}

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// ClientAPIKeys is the credential message that opens every session.
type ClientAPIKeys struct {
	Type string            `json:"type"`
	Keys map[string]string `json:"keys"`
}

// Get returns the trimmed credential for name.
func (m ClientAPIKeys) Get(name string) string {
	return strings.TrimSpace(m.Keys[name])
}

// Missing lists the names from required that are absent or blank.
func (m ClientAPIKeys) Missing(required ...string) []string {
	var out []string
	for _, name := range required {
		if m.Get(name) == "" {
			out = append(out, name)
		}
	}
	return out
}

func (m ClientAPIKeys) RedactedForLog() map[string]any {
	names := make([]string, 0, len(m.Keys))
	for k, v := range m.Keys {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	if len(names) > 32 {
		names = names[:32]
	}
	return map[string]any{
		"type":      m.Type,
		"key_names": names,
		"missing":   m.Missing(RequiredKeys...),
	}
}

// DecodeClientMessage decodes a text frame. The only client message is
// api_keys; its credentials may be nested under "keys" or "api_keys", or
// appear as top-level string fields.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	var typ string
	if raw, ok := envelope["type"]; ok {
		if err := json.Unmarshal(raw, &typ); err != nil {
			return nil, badRequest("type must be a string", "type")
		}
	}
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeAPIKeys:
		msg := ClientAPIKeys{Type: typ, Keys: map[string]string{}}
		nested := false
		for _, field := range []string{"keys", "api_keys"} {
			raw, ok := envelope[field]
			if !ok {
				continue
			}
			var keys map[string]string
			if err := json.Unmarshal(raw, &keys); err != nil {
				return nil, badRequest("api_keys."+field+" must be an object of strings", field)
			}
			for k, v := range keys {
				msg.Keys[strings.TrimSpace(k)] = v
			}
			nested = true
		}
		if !nested {
			for k, raw := range envelope {
				if k == "type" {
					continue
				}
				var v string
				if err := json.Unmarshal(raw, &v); err != nil {
					continue
				}
				msg.Keys[k] = v
			}
		}
		return msg, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

type ServerStatus struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}

type ServerTranscript struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ServerAIResponse struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

type ServerAudioChunk struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// TaskInfo describes a task created on the user's behalf.
type TaskInfo struct {
	TaskID  string `json:"task_id,omitempty"`
	Content string `json:"content"`
	URL     string `json:"url,omitempty"`
}

type ServerTaskCreated struct {
	Type    string   `json:"type"`
	Task    TaskInfo `json:"task"`
	Message string   `json:"message"`
}

type ServerFallbackAudio struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}
