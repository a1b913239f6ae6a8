package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Rating keys returned by FraudCheck. The mobile app maps each key to a
// pre-recorded audio clip.
const (
	RatingFraud      = "fraud_low"
	RatingVerified   = "found_verified"
	RatingUnverified = "found_unverified"
	RatingNotFound   = "not_found"
)

// FraudCheck looks up a driver's fraud rating by phone number.
type FraudCheck struct {
	baseURL string
	hc      *http.Client
	logger  *slog.Logger
}

// NewFraudCheck creates a fraud check client. hc may be nil.
func NewFraudCheck(baseURL string, hc *http.Client, logger *slog.Logger) *FraudCheck {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FraudCheck{baseURL: baseURL, hc: hc, logger: logger.With("client", "fraudcheck")}
}

// CheckRating resolves the rating key for a phone number and returns the raw
// upstream payload for the app to render. A fraud flag takes priority over
// the verification status.
func (f *FraudCheck) CheckRating(ctx context.Context, phone string) (string, map[string]any, error) {
	body, err := json.Marshal(map[string]string{"phoneNo": phone})
	if err != nil {
		return "", nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.hc.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("checking rating: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("checking rating: unexpected status %d", resp.StatusCode)
	}
	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", nil, fmt.Errorf("decoding rating response: %w", err)
	}
	return ratingKey(data), data, nil
}

func ratingKey(data map[string]any) string {
	found, _ := data["found"].(bool)
	if !found {
		return RatingNotFound
	}
	detail, _ := data["driverDetail"].(map[string]any)
	if fraud, _ := detail["fraud"].(bool); fraud {
		return RatingFraud
	}
	if verified, _ := detail["profileVerified"].(bool); verified {
		return RatingVerified
	}
	return RatingUnverified
}
