package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// OTPVerify verifies one-time passwords for the aadhaar verification flow.
type OTPVerify struct {
	baseURL string
	hc      *http.Client
	logger  *slog.Logger
}

// NewOTPVerify creates an OTP verification client. hc may be nil.
func NewOTPVerify(baseURL string, hc *http.Client, logger *slog.Logger) *OTPVerify {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OTPVerify{baseURL: baseURL, hc: hc, logger: logger.With("client", "otpverify")}
}

// Verify checks the OTP issued to the driver. It returns whether the code
// was accepted and the upstream message, if any.
func (o *OTPVerify) Verify(ctx context.Context, driverID, otp string) (bool, string, error) {
	body, err := json.Marshal(map[string]string{
		"driverId": driverID,
		"otp":      otp,
	})
	if err != nil {
		return false, "", fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(body))
	if err != nil {
		return false, "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.hc.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("verifying otp: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, "", fmt.Errorf("verifying otp: unexpected status %d", resp.StatusCode)
	}
	var result struct {
		Verified bool   `json:"verified"`
		Message  string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, "", fmt.Errorf("decoding otp response: %w", err)
	}
	return result.Verified, result.Message, nil
}
