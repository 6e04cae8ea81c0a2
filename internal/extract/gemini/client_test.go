package gemini

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

func TestBuildPrompt(t *testing.T) {
	t.Parallel()
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	p := BuildPrompt("فردا کلاس", today)
	if !strings.Contains(p, "2026-03-10") || !strings.Contains(p, "فردا کلاس") || !strings.Contains(p, "task_title") {
		t.Fatalf("prompt missing parts: %s", p)
	}
}

func TestClient_Extract(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/models/test-model:generateContent") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Contents) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch text := req.Contents[0].Parts[0].Text; {
		case strings.Contains(text, "cause_500"):
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
		case strings.Contains(text, "cause_empty"):
			_, _ = w.Write([]byte(`{"candidates":[]}`))
		default:
			_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"task_title\":\"x\"}"}]}}]}`))
		}
	}))
	defer ts.Close()

	c := New(Config{APIKey: "k", Model: "test-model", APIURL: ts.URL + "/", HTTPClient: ts.Client()})
	ctx := context.Background()
	today := time.Now()

	out, err := c.Extract(ctx, "hello", today)
	if err != nil || out != `{"task_title":"x"}` {
		t.Fatalf("Extract = %q, %v", out, err)
	}
	if _, err := c.Extract(ctx, "cause_500", today); err == nil || !strings.Contains(err.Error(), "API error 500") {
		t.Fatalf("want API error, got %v", err)
	}
	if _, err := c.Extract(ctx, "cause_empty", today); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("want ErrEmptyResponse, got %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	c := New(Config{APIKey: "k"})
	if c.Model() != DefaultModel || c.apiURL != DefaultAPIURL || c.httpClient.Timeout != DefaultTimeout {
		t.Fatalf("defaults not applied: %+v", c)
	}
}
