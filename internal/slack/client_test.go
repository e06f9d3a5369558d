package slack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/genricoloni/slobbler/internal/domain"
	"go.uber.org/zap"
)

var (
	_ domain.StatusService = (*Client)(nil)
	_ domain.StatusService = (*DryRun)(nil)
)

func TestClient_Read(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		header        map[string]string
		body          string
		expected      domain.RemoteStatus
		expectedError string
		rateLimited   bool
		retryAfter    time.Duration
	}{
		{
			name:       "Success - Status Set",
			statusCode: http.StatusOK,
			body:       `{"ok":true,"profile":{"status_text":"Radiohead - Nude","status_emoji":":notes:","status_expiration":1760529600}}`,
			expected: domain.RemoteStatus{
				Text:       "Radiohead - Nude",
				Emoji:      ":notes:",
				Expiration: time.Unix(1760529600, 0),
			},
		},
		{
			name:       "Success - Empty Status",
			statusCode: http.StatusOK,
			body:       `{"ok":true,"profile":{"status_text":"","status_emoji":"","status_expiration":0}}`,
			expected:   domain.RemoteStatus{},
		},
		{
			name:          "Error - API Not OK",
			statusCode:    http.StatusOK,
			body:          `{"ok":false,"error":"invalid_auth"}`,
			expectedError: "invalid_auth",
		},
		{
			name:        "Error - Rate Limited",
			statusCode:  http.StatusTooManyRequests,
			header:      map[string]string{"Retry-After": "30"},
			rateLimited: true,
			retryAfter:  30 * time.Second,
		},
		{
			name:          "Error - 500",
			statusCode:    http.StatusInternalServerError,
			expectedError: "unexpected status code",
		},
		{
			name:          "Error - Garbage Body",
			statusCode:    http.StatusOK,
			body:          `<html>`,
			expectedError: "failed to decode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/users.profile.get" {
					t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
				}
				if got := r.URL.Query().Get("user"); got != "U123" {
					t.Errorf("Expected user=U123, got %q", got)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer xoxp-test" {
					t.Errorf("Expected bearer token, got %q", got)
				}
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(zap.NewNop(), "xoxp-test", "U123", server.URL, 5*time.Second)
			got, err := client.Read(context.Background())

			if tt.rateLimited {
				if !errors.Is(err, ErrRateLimited) {
					t.Fatalf("Expected ErrRateLimited, got %v", err)
				}
				var rl *RateLimitError
				if !errors.As(err, &rl) || rl.RetryAfter != tt.retryAfter {
					t.Errorf("Expected retry after %s, got %+v", tt.retryAfter, rl)
				}
				return
			}

			if tt.expectedError != "" {
				if err == nil {
					t.Fatalf("Expected error containing %q, got nil", tt.expectedError)
				}
				if !strings.Contains(err.Error(), tt.expectedError) {
					t.Errorf("Expected error containing %q, got %v", tt.expectedError, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got.Text != tt.expected.Text || got.Emoji != tt.expected.Emoji || !got.Expiration.Equal(tt.expected.Expiration) {
				t.Errorf("Expected %+v, got %+v", tt.expected, got)
			}
		})
	}
}

func TestClient_Write(t *testing.T) {
	expiration := time.Unix(1760529600, 0)

	tests := []struct {
		name     string
		update   domain.StatusUpdate
		expected profile
	}{
		{
			name:     "Publish With Expiration",
			update:   domain.StatusUpdate{Text: "Radiohead - Nude", Emoji: ":notes:", Expiration: expiration},
			expected: profile{StatusText: "Radiohead - Nude", StatusEmoji: ":notes:", StatusExpiration: 1760529600},
		},
		{
			name:     "Publish Without Expiration",
			update:   domain.StatusUpdate{Text: "Björk - Jóga", Emoji: ":headphones:"},
			expected: profile{StatusText: "Björk - Jóga", StatusEmoji: ":headphones:"},
		},
		{
			name:     "Clear",
			update:   domain.StatusUpdate{},
			expected: profile{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var received profileRequest
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/users.profile.set" {
					t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
				}
				if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
					t.Errorf("Expected JSON content type, got %q", ct)
				}
				body, _ := io.ReadAll(r.Body)
				if err := json.Unmarshal(body, &received); err != nil {
					t.Errorf("Bad request body %s: %v", body, err)
				}
				_, _ = w.Write([]byte(`{"ok":true,"profile":{}}`))
			}))
			defer server.Close()

			client := NewClient(zap.NewNop(), "xoxp-test", "U123", server.URL+"/", 5*time.Second)
			if err := client.Write(context.Background(), tt.update); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if received.Profile != tt.expected {
				t.Errorf("Expected payload %+v, got %+v", tt.expected, received.Profile)
			}
		})
	}
}

func TestClient_WriteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"too_long"}`))
	}))
	defer server.Close()

	client := NewClient(zap.NewNop(), "xoxp-test", "U123", server.URL, time.Second)
	err := client.Write(context.Background(), domain.StatusUpdate{Text: "x", Emoji: ":notes:"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.Method != "users.profile.set" || apiErr.Code != "too_long" {
		t.Errorf("Unexpected APIError: %+v", apiErr)
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"profile":{}}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(zap.NewNop(), "xoxp-test", "U123", server.URL, time.Second)
	if _, err := client.Read(ctx); err == nil || !strings.Contains(err.Error(), "context canceled") {
		t.Errorf("Expected context canceled, got %v", err)
	}
}

func TestDryRun(t *testing.T) {
	d := NewDryRun(zap.NewNop())
	ctx := context.Background()

	if got, _ := d.Read(ctx); !got.IsEmpty() {
		t.Fatalf("Fresh dry run should read empty, got %+v", got)
	}

	_ = d.Write(ctx, domain.StatusUpdate{Text: "Radiohead - Nude", Emoji: ":notes:"})
	got, _ := d.Read(ctx)
	if got.Text != "Radiohead - Nude" || got.Emoji != ":notes:" {
		t.Errorf("Expected last write to be readable, got %+v", got)
	}

	_ = d.Write(ctx, domain.StatusUpdate{})
	if got, _ := d.Read(ctx); !got.IsEmpty() {
		t.Errorf("Expected empty after clear, got %+v", got)
	}
	if d.Writes() != 2 {
		t.Errorf("Expected 2 writes, got %d", d.Writes())
	}
}
