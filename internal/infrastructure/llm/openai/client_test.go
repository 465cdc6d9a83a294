package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/resilience"
)

func TestCompleteSendsChatRequest(t *testing.T) {
	var captured chatRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  help_request \n"}}]}`))
	}))
	defer server.Close()

	client := New(server.URL+"/v1", "gpt-test", time.Second, 0)
	text, err := client.Complete(context.Background(), domain.Credential{Index: 0, Key: "sk-1"}, domain.CompletionRequest{
		SystemPrompt: "triage",
		UserPrompt:   "hello",
		Temperature:  0,
		MaxTokens:    10,
		JSONOutput:   true,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "help_request" {
		t.Fatalf("unexpected text %q", text)
	}
	if auth != "Bearer sk-1" {
		t.Fatalf("unexpected authorization header %q", auth)
	}
	if captured.Model != "gpt-test" || len(captured.Messages) != 2 || captured.Messages[0].Role != "system" {
		t.Fatalf("unexpected payload %+v", captured)
	}
	if captured.ResponseFormat == nil || captured.ResponseFormat.Type != "json_object" {
		t.Fatalf("expected json response format")
	}
}

func TestCompleteMapsStatusToErrorKind(t *testing.T) {
	cases := []struct {
		status int
		kind   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimited},
		{http.StatusUnauthorized, domain.ErrAuth},
		{http.StatusForbidden, domain.ErrAuth},
		{http.StatusBadGateway, domain.ErrTemporary},
		{http.StatusBadRequest, domain.ErrInvalidInput},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		client := New(server.URL, "m", time.Second, 0)
		_, err := client.Complete(context.Background(), domain.Credential{Key: "k"}, domain.CompletionRequest{UserPrompt: "x"})
		server.Close()
		if !errors.Is(err, tc.kind) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.kind, err)
		}
	}
}

func TestCompleteOpensBreakerPerCredential(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") == "Bearer bad" {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	client := New(server.URL, "m", time.Second, 0, WithExecutor(resilience.NewExecutor(resilience.CredentialConfig())))
	bad := domain.Credential{Index: 0, Key: "bad"}
	for i := 0; i < 3; i++ {
		_, _ = client.Complete(context.Background(), bad, domain.CompletionRequest{UserPrompt: "x"})
	}
	before := calls.Load()
	_, err := client.Complete(context.Background(), bad, domain.CompletionRequest{UserPrompt: "x"})
	if !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error from open breaker, got %v", err)
	}
	if calls.Load() != before {
		t.Fatalf("expected open breaker to skip the request")
	}

	if _, err := client.Complete(context.Background(), domain.Credential{Index: 1, Key: "good"}, domain.CompletionRequest{UserPrompt: "x"}); err != nil {
		t.Fatalf("expected healthy credential to succeed, got %v", err)
	}
}
