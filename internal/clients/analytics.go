package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// IntentEvent is one logged assistant interaction.
type IntentEvent struct {
	DriverID         string
	SessionID        string
	QueryText        string
	Intent           string
	InteractionCount int
	PickupCity       string
	DropCity         string
}

// Analytics posts intent events to the warehouse sync endpoint. Callers fire
// it from a background goroutine; failures are logged and never surfaced to
// the conversation.
type Analytics struct {
	baseURL string
	hc      *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// NewAnalytics creates an analytics client. hc may be nil.
func NewAnalytics(baseURL string, hc *http.Client, logger *slog.Logger) *Analytics {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analytics{
		baseURL: baseURL,
		hc:      hc,
		logger:  logger.With("client", "analytics"),
		now:     time.Now,
	}
}

// LogIntent posts one event. City fields are omitted when empty.
func (a *Analytics) LogIntent(ctx context.Context, ev IntentEvent) error {
	payload := map[string]any{
		"driverId":         ev.DriverID,
		"sessionId":        ev.SessionID,
		"queryText":        ev.QueryText,
		"intent":           ev.Intent,
		"interactionCount": ev.InteractionCount,
		"createdAt":        a.now().UTC().Format(time.RFC3339),
	}
	if ev.PickupCity != "" {
		payload["pickupCity"] = ev.PickupCity
	}
	if ev.DropCity != "" {
		payload["dropCity"] = ev.DropCity
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.hc.Do(req)
	if err != nil {
		return fmt.Errorf("posting event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("posting event: unexpected status %d", resp.StatusCode)
	}
	return nil
}
