// Package importer uploads finished recording directories to a
// configured HTTP endpoint.
package importer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/msageha/baton/internal/model"
)

// Client posts completed recording directories for ingestion. One call
// per recording; retries are the receiver's concern.
type Client struct {
	url    string
	token  string
	client *http.Client
}

func New(cfg model.RecordingConfig) *Client {
	timeout := time.Duration(cfg.ImportTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:    cfg.ImportURL,
		token:  cfg.ImportToken,
		client: &http.Client{Timeout: timeout},
	}
}

// Import announces a finished recording directory to the endpoint.
func (c *Client) Import(directory string) error {
	if c.url == "" {
		return fmt.Errorf("import url not configured")
	}

	payload, err := json.Marshal(map[string]string{"directory": directory})
	if err != nil {
		return fmt.Errorf("encode import request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build import request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("import %s: %w", directory, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("import %s: status %d: %s", directory, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
