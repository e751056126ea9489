package tavily

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClientSearch_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("auth header=%q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["include_answer"] != true || body["query"] != "golang release" {
			t.Errorf("body=%v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"Go 1.25 shipped.","results":[{"title":"T","url":"https://e.com","content":"S"}]}`))
	}))
	defer ts.Close()

	c := NewClient("key", ts.URL, ts.Client())
	res, err := c.Search(context.Background(), "golang release", 3)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if res.Answer != "Go 1.25 shipped." || len(res.Hits) != 1 || res.Hits[0].Title != "T" {
		t.Fatalf("results=%+v", res)
	}
	if got := res.Digest(); got != "Answer: Go 1.25 shipped.\n1. T: S" {
		t.Fatalf("digest=%q", got)
	}
}

func TestClientSearch_Non200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer ts.Close()

	c := NewClient("bad-key", ts.URL, ts.Client())
	_, err := c.Search(context.Background(), "golang", 3)
	if err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Fatalf("err=%v, want status 401", err)
	}
}

func TestClientSearch_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer ts.Close()

	c := NewClient("key", ts.URL, ts.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Search(ctx, "golang", 3); err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}

func TestClientSearch_MalformedResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{"))
	}))
	defer ts.Close()

	c := NewClient("key", ts.URL, ts.Client())
	if _, err := c.Search(context.Background(), "golang", 3); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestClientSearch_NotConfigured(t *testing.T) {
	c := NewClient(" ", "", nil)
	if c.Configured() {
		t.Fatal("blank key should not be configured")
	}
	if _, err := c.Search(context.Background(), "golang", 3); err == nil {
		t.Fatal("expected error")
	}
}
