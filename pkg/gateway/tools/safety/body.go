// Package safety bounds what skill backends may send back.
package safety

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxResponseBytes caps a decoded skill response.
const MaxResponseBytes int64 = 2 << 20

const maxErrorSnippetBytes = 512

func ReadResponseBodyLimited(resp *http.Response, limit int64) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, fmt.Errorf("response body is empty")
	}
	if limit <= 0 {
		limit = MaxResponseBytes
	}
	lr := &io.LimitedReader{R: resp.Body, N: limit + 1}
	b, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("response exceeds maximum size %d bytes", limit)
	}
	return b, nil
}

// DecodeJSONBodyLimited decodes exactly one JSON value from resp into out.
func DecodeJSONBodyLimited(resp *http.Response, limit int64, out any) error {
	b, err := ReadResponseBodyLimited(resp, limit)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(out); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		return fmt.Errorf("invalid json payload")
	}
	return nil
}

// StatusError describes a non-2xx response using a short prefix of its body.
func StatusError(service string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippetBytes))
	return fmt.Errorf("%s error (status %d): %s", service, resp.StatusCode, strings.TrimSpace(string(b)))
}
