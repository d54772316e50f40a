package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestFollowupWithoutAPIKeyUsesTemplate(t *testing.T) {
	g := NewGenerator(Config{}, zap.NewNop())

	body := g.Followup(context.Background(), Lead{Channel: "whatsapp", DaysInactive: 2})
	if body != followupTemplate {
		t.Errorf("body = %q, want template", body)
	}
}

func TestFollowupCallsModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("authorization = %q", auth)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model = %q", req.Model)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "  Hey, still around?  "}},
			},
		})
	}))
	defer srv.Close()

	g := NewGenerator(Config{APIKey: "sk-test", BaseURL: srv.URL}, zap.NewNop())

	body := g.Followup(context.Background(), Lead{Channel: "whatsapp", DaysInactive: 2})
	if body != "Hey, still around?" {
		t.Errorf("body = %q", body)
	}
}

func TestFollowupModelErrorFallsBackToTemplate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "rate limit exceeded"},
		})
	}))
	defer srv.Close()

	g := NewGenerator(Config{APIKey: "sk-test", BaseURL: srv.URL}, zap.NewNop())

	body := g.Followup(context.Background(), Lead{Channel: "sms", DaysInactive: 3})
	if body != followupTemplate {
		t.Errorf("body = %q, want template fallback", body)
	}
}

func TestFollowupEmptyChoicesFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	g := NewGenerator(Config{APIKey: "sk-test", BaseURL: srv.URL}, zap.NewNop())

	if body := g.Followup(context.Background(), Lead{}); body != followupTemplate {
		t.Errorf("body = %q, want template fallback", body)
	}
}
