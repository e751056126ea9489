package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestDecodeClientMessage_APIKeys(t *testing.T) {
	raw := []byte(`{"type":"api_keys","keys":{"stt":"a","tts":"b","llm":"c","weather":"w"}}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	keys, ok := msg.(ClientAPIKeys)
	if !ok {
		t.Fatalf("decoded type = %T, want ClientAPIKeys", msg)
	}
	if keys.Get(KeyWeather) != "w" {
		t.Fatalf("weather=%q, want w", keys.Get(KeyWeather))
	}
	if missing := keys.Missing(RequiredKeys...); len(missing) != 0 {
		t.Fatalf("missing=%v, want none", missing)
	}
}

func TestDecodeClientMessage_APIKeysAlternateShapes(t *testing.T) {
	cases := map[string]string{
		"nested api_keys": `{"type":"api_keys","api_keys":{"stt":"a","tts":"b","llm":"c"}}`,
		"top level":       `{"type":"api_keys","stt":"a","tts":"b","llm":"c","extra":7}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			msg, err := DecodeClientMessage([]byte(raw))
			if err != nil {
				t.Fatalf("DecodeClientMessage() error = %v", err)
			}
			keys := msg.(ClientAPIKeys)
			if missing := keys.Missing(RequiredKeys...); len(missing) != 0 {
				t.Fatalf("missing=%v, want none", missing)
			}
		})
	}
}

func TestClientAPIKeys_MissingTreatsBlankAsAbsent(t *testing.T) {
	keys := ClientAPIKeys{Type: TypeAPIKeys, Keys: map[string]string{"stt": "a", "tts": "  ", "llm": "c"}}
	missing := keys.Missing(RequiredKeys...)
	if !reflect.DeepEqual(missing, []string{"tts"}) {
		t.Fatalf("missing=%v, want [tts]", missing)
	}
}

func TestDecodeClientMessage_Errors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		code string
	}{
		{name: "not json", raw: `hello`, code: "bad_request"},
		{name: "missing type", raw: `{"keys":{}}`, code: "bad_request"},
		{name: "non-string type", raw: `{"type":5}`, code: "bad_request"},
		{name: "unknown type", raw: `{"type":"hello"}`, code: "unsupported"},
		{name: "keys not object", raw: `{"type":"api_keys","keys":["a"]}`, code: "bad_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeClientMessage([]byte(tc.raw))
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("err=%v, want *DecodeError", err)
			}
			if de.Code != tc.code {
				t.Fatalf("code=%q, want %q", de.Code, tc.code)
			}
		})
	}
}

func TestClientAPIKeys_RedactedForLogOmitsSecrets(t *testing.T) {
	keys := ClientAPIKeys{Type: TypeAPIKeys, Keys: map[string]string{"stt": "secret-stt", "llm": "secret-llm"}}
	b, err := json.Marshal(keys.RedactedForLog())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "secret") {
		t.Fatalf("redacted log leaked secret: %s", b)
	}
	if !strings.Contains(string(b), `"tts"`) {
		t.Fatalf("redacted log should list missing tts: %s", b)
	}
}

func TestServerAIResponse_AlwaysEncodesIsFinal(t *testing.T) {
	b, err := json.Marshal(ServerAIResponse{Type: TypeAIResponse, Text: "hi"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"type":"ai_response","text":"hi","is_final":false}` {
		t.Fatalf("json=%s", b)
	}
}
