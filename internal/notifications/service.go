package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"boqmatch/internal/config"
)

const userAgent = "boqmatch/1.0"

// Event names a notification.
type Event string

const (
	EventVersionSubmitted     Event = "version_submitted"
	EventVersionActivated     Event = "version_activated"
	EventVersionsAutoApproved Event = "versions_auto_approved"
	EventHealthDegraded       Event = "health_degraded"
	EventHealthRecovered      Event = "health_recovered"
	EventTest                 Event = "test"
)

// Payload carries the event fields used to render the message.
type Payload map[string]string

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService returns an ntfy publisher, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: cfg.NotificationTimeout()},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

func render(event Event, p Payload) (message, bool) {
	switch event {
	case EventVersionSubmitted:
		valid := "passed validation"
		priority := ""
		if p["valid"] != "true" {
			valid = "FAILED validation"
			priority = "high"
		}
		return message{
			title:    "boqmatch - Catalog Submitted",
			body:     fmt.Sprintf("Catalog %s (%s codes) %s and awaits review\nVersion: %s", label(p), p["codes"], valid, p["version_id"]),
			tags:     []string{"boqmatch", "catalog", "review"},
			priority: priority,
		}, true
	case EventVersionActivated:
		return message{
			title: "boqmatch - Catalog Activated",
			body:  fmt.Sprintf("Catalog %s is now active (%s codes)\nVersion: %s", label(p), p["codes"], p["version_id"]),
			tags:  []string{"boqmatch", "catalog", "active"},
		}, true
	case EventVersionsAutoApproved:
		return message{
			title: "boqmatch - Catalog Auto-Approved",
			body:  fmt.Sprintf("Auto-approved after the review window: %s", p["version_ids"]),
			tags:  []string{"boqmatch", "catalog", "approved"},
		}, true
	case EventHealthDegraded:
		return message{
			title:    "boqmatch - Health Check Failed",
			body:     fmt.Sprintf("Failing checks: %s", p["failing"]),
			tags:     []string{"boqmatch", "health", "alert"},
			priority: "high",
		}, true
	case EventHealthRecovered:
		return message{
			title: "boqmatch - Health Restored",
			body:  "All catalog health checks pass again",
			tags:  []string{"boqmatch", "health"},
		}, true
	case EventTest:
		return message{
			title:    "boqmatch - Test",
			body:     "Notification system test",
			tags:     []string{"boqmatch", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func label(p Payload) string {
	if l := strings.TrimSpace(p["label"]); l != "" {
		return fmt.Sprintf("%q", l)
	}
	return p["version_id"]
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := render(event, payload)
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
