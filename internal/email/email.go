// Package email sends transactional mail through a Resend-compatible HTTP API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotConfigured is returned by Send when no API key or sender is set.
var ErrNotConfigured = errors.New("email: sender not configured")

type Message struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`
}

// Sender is implemented by Client and by test stubs.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

type Client struct {
	apiURL     string
	apiKey     string
	from       string
	httpClient *http.Client
}

func NewClient(apiURL, apiKey, from string) *Client {
	return &Client{
		apiURL:     apiURL,
		apiKey:     apiKey,
		from:       from,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Configured reports whether Send can succeed.
func (c *Client) Configured() bool {
	return c.apiKey != "" && c.from != "" && c.apiURL != ""
}

type sendRequest struct {
	From string `json:"from"`
	Message
}

func (c *Client) Send(ctx context.Context, m Message) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if len(m.To) == 0 {
		return fmt.Errorf("email: no recipients")
	}
	body, err := json.Marshal(sendRequest{From: c.from, Message: m})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("email provider returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
