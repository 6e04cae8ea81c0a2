// Package gemini is a minimal client for the Gemini generateContent API,
// used as the primary task extractor.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrEmptyResponse = errors.New("gemini: empty response")

type Client struct {
	apiKey     string
	apiURL     string
	model      string
	httpClient *http.Client
}

func New(cfg Config) *Client {
	c := &Client{
		apiKey:     cfg.APIKey,
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		model:      cfg.Model,
		httpClient: cfg.HTTPClient,
	}
	if c.apiURL == "" {
		c.apiURL = DefaultAPIURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	return c
}

func (c *Client) Model() string { return c.model }

// Extract asks the model for a JSON task payload and returns the first
// candidate's text untouched.
func (c *Client) Extract(ctx context.Context, text string, today time.Time) (string, error) {
	req := generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: BuildPrompt(text, today)}}}},
		GenerationConfig: &generationConfig{Temperature: 0.1, ResponseMIMEType: "application/json"},
	}
	resp, err := c.generate(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	out := strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func (c *Client) generate(ctx context.Context, req generateRequest) (*generateResponse, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.apiURL, c.model, url.QueryEscape(c.apiKey))

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to call API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gemini: API error %d: %s", resp.StatusCode, string(raw))
	}
	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gemini: failed to decode response: %w", err)
	}
	return &out, nil
}
