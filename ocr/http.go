package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kpc/logger"
)

// HTTPClient calls the OCR sidecar service
type HTTPClient struct {
	serviceURL   string
	lang         string
	fallbackLang string
	client       *http.Client
	log          *logger.Logger
}

// ocrRequest is the body posted to /ocr
type ocrRequest struct {
	ImageData    string `json:"image_data"`
	Lang         string `json:"lang"`
	FallbackLang string `json:"fallback_lang,omitempty"`
}

// ocrResponse represents the response from the OCR service
type ocrResponse struct {
	Success bool   `json:"success"`
	Text    string `json:"text,omitempty"`
	Lang    string `json:"lang,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewHTTPClient creates a client for the OCR service
func NewHTTPClient(serviceURL, lang, fallbackLang string, timeout time.Duration, log *logger.Logger) *HTTPClient {
	if serviceURL == "" {
		serviceURL = "http://ocr-service:5000"
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPClient{
		serviceURL:   strings.TrimRight(serviceURL, "/"),
		lang:         lang,
		fallbackLang: fallbackLang,
		client:       &http.Client{Timeout: timeout},
		log:          log.With("service", "ocr.HTTPClient"),
	}
}

// Name identifies the backend
func (c *HTTPClient) Name() string { return "http" }

// Recognize sends a base64 encoded image to the service and returns its text
func (c *HTTPClient) Recognize(ctx context.Context, image []byte) (string, error) {
	payload := ocrRequest{
		ImageData:    base64.StdEncoding.EncodeToString(image),
		Lang:         c.lang,
		FallbackLang: c.fallbackLang,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL+"/ocr", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call OCR service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var ocrResp ocrResponse
	if err := json.Unmarshal(body, &ocrResp); err != nil {
		return "", fmt.Errorf("failed to parse OCR response (status %d): %w", resp.StatusCode, err)
	}
	if !ocrResp.Success {
		return "", fmt.Errorf("OCR service error: %s", ocrResp.Error)
	}

	c.log.Debug("ocr service recognized text", "lang", ocrResp.Lang, "chars", len(ocrResp.Text))
	return ocrResp.Text, nil
}

// HealthCheck checks if the OCR service is available
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serviceURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("OCR service health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("OCR service unhealthy (status: %d)", resp.StatusCode)
	}

	var healthResp struct {
		Status  string `json:"status"`
		Service string `json:"service"`
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to parse health response: %w", err)
	}

	c.log.Info("OCR service health check passed", "service", healthResp.Service, "version", healthResp.Version)
	return nil
}
