package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/content"
)

func TestHTTPClientReply(t *testing.T) {
	t.Parallel()

	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"Peace be with you","mood":"anxious"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", time.Second, nil)
	resp, err := c.Reply(context.Background(), Request{Message: "hi", Name: "Ruth", AgeRange: "18-30"})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if resp.Text != "Peace be with you" || resp.Mood != "anxious" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got.Name != "Ruth" || got.AgeRange != "18-30" || got.Message != "hi" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestHTTPClientFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"error field", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"error":"model unavailable"}`))
		}},
		{"empty reply", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"response":"  "}`))
		}},
		{"bad json", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewHTTPClient(srv.URL, time.Second, nil).Reply(context.Background(), Request{Message: "hi"})
			if !errors.Is(err, ErrBackend) {
				t.Fatalf("expected ErrBackend, got %v", err)
			}
		})
	}
}

func TestHTTPClientUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(url, 200*time.Millisecond, nil).Reply(context.Background(), Request{Message: "hi"})
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("expected ErrBackend, got %v", err)
	}
}

func TestOfflineReplyUsesMood(t *testing.T) {
	t.Parallel()

	lib, err := content.Load()
	if err != nil {
		t.Fatalf("content.Load: %v", err)
	}
	resp, err := NewOffline(lib).Reply(context.Background(), Request{
		Message: "I'm feeling really anxious about tomorrow",
		Name:    "Ruth",
	})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if resp.Mood != "anxious" {
		t.Fatalf("expected anxious mood, got %q", resp.Mood)
	}
	if !strings.Contains(resp.Text, "Ruth") || !strings.Contains(resp.Text, "1 Peter 5:7") {
		t.Fatalf("unexpected reply %q", resp.Text)
	}
}
