package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"boqmatch/internal/config"
	"boqmatch/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventHealthDegraded, notifications.Payload{"failing": "x"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:          "valid submission",
			event:         notifications.EventVersionSubmitted,
			payload:       notifications.Payload{"version_id": "v-1", "label": "2026", "codes": "12", "valid": "true"},
			expectTitle:   "boqmatch - Catalog Submitted",
			expectMessage: `Catalog "2026" (12 codes) passed validation`,
			expectTags:    "boqmatch,catalog,review",
		},
		{
			name:           "invalid submission",
			event:          notifications.EventVersionSubmitted,
			payload:        notifications.Payload{"version_id": "v-2", "codes": "3", "valid": "false"},
			expectTitle:    "boqmatch - Catalog Submitted",
			expectMessage:  "Catalog v-2 (3 codes) FAILED validation",
			expectTags:     "boqmatch,catalog,review",
			expectPriority: "high",
		},
		{
			name:           "health degraded",
			event:          notifications.EventHealthDegraded,
			payload:        notifications.Payload{"failing": "kb_references"},
			expectTitle:    "boqmatch - Health Check Failed",
			expectMessage:  "Failing checks: kb_references",
			expectTags:     "boqmatch,health,alert",
			expectPriority: "high",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "boqmatch - Test",
			expectMessage:  "Notification system test",
			expectTags:     "boqmatch,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var title, body, tags, priority string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				data, _ := io.ReadAll(r.Body)
				body = string(data)
				title = r.Header.Get("Title")
				tags = r.Header.Get("Tags")
				priority = r.Header.Get("Priority")
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = srv.URL
			cfg.Notifications.RequestTimeoutSeconds = 5
			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			if title != tc.expectTitle {
				t.Fatalf("title = %q, want %q", title, tc.expectTitle)
			}
			if !strings.Contains(body, tc.expectMessage) {
				t.Fatalf("body = %q, want it to contain %q", body, tc.expectMessage)
			}
			if tags != tc.expectTags {
				t.Fatalf("tags = %q, want %q", tags, tc.expectTags)
			}
			if priority != tc.expectPriority {
				t.Fatalf("priority = %q, want %q", priority, tc.expectPriority)
			}
		})
	}
}

func TestNtfyServiceSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic reserved", http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.RequestTimeoutSeconds = 5
	err := notifications.NewService(&cfg).Publish(context.Background(), notifications.EventTest, nil)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
	if err := notifications.NewService(&cfg).Publish(context.Background(), "bogus", nil); err == nil {
		t.Fatal("expected error for unknown event")
	}
}
