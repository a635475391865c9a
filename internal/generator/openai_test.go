package generator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tbourn/groupwrite/internal/consensus"
)

func completionServer(t *testing.T, status int, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		if seen != nil {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		resp := map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAI_Generate_OK(t *testing.T) {
	var seen map[string]any
	srv := completionServer(t, http.StatusOK, "  merged document \n", &seen)

	g, err := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1/", Model: "test-model"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, err := g.Generate(context.Background(),
		consensus.Document{Content: "old", Version: 2},
		[]consensus.Message{{SenderID: "A", Text: "add a section"}},
	)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "merged document" {
		t.Fatalf("out=%q", out)
	}
	if seen["model"] != "test-model" {
		t.Fatalf("model sent = %v", seen["model"])
	}
	msgs, _ := seen["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(msgs))
	}
}

func TestOpenAI_Generate_Errors(t *testing.T) {
	srv := completionServer(t, http.StatusInternalServerError, "", nil)
	g, err := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1/"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = g.Generate(context.Background(), consensus.Document{}, []consensus.Message{{SenderID: "A", Text: "x"}})
	if !errors.Is(err, consensus.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}

	empty := completionServer(t, http.StatusOK, "   ", nil)
	g, _ = NewOpenAI(Config{APIKey: "test-key", BaseURL: empty.URL + "/v1/"})
	_, err = g.Generate(context.Background(), consensus.Document{}, []consensus.Message{{SenderID: "A", Text: "x"}})
	if !errors.Is(err, consensus.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed for empty content, got %v", err)
	}
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	if _, err := NewOpenAI(Config{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(consensus.Document{}, []consensus.Message{
		{SenderID: "A", Text: " hello "},
		{SenderID: "B", Text: "world"},
	})
	for _, want := range []string{"(empty)", "- A: hello", "- B: world"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
	p = BuildPrompt(consensus.Document{Content: "body", Version: 3}, nil)
	if !strings.Contains(p, "(version 3)") || !strings.Contains(p, "body") {
		t.Fatalf("prompt missing document:\n%s", p)
	}
}
