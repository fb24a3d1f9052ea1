package leafmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"cropsight/config"

	log "github.com/sirupsen/logrus"
)

// Client talks to the external leaf-disease model service.
//
// The service exposes a single endpoint:
//
//	GET {baseURL}/api/process?url={publicImageURL}
//
// and answers with a JSON body containing a "leafs" array and an optional
// "summary" block. Calls are independent attempts; the client does not retry.
// Recovery from a failed analysis is the user-facing reanalyze operation.
type Client struct {
	cfg        config.ModelConfig
	httpClient *http.Client
}

// NewClient creates a new model service client
func NewClient(cfg config.ModelConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Detect submits a publicly fetchable image URL for disease detection.
// A non-2xx response, a network failure or a malformed payload is returned
// as an error; a valid response with zero leaf records is not an error here,
// the caller decides what an empty detection means.
func (c *Client) Detect(ctx context.Context, imageURL string) (*Result, error) {
	apiURL, err := url.JoinPath(c.cfg.URL, "/api/process")
	if err != nil {
		return nil, fmt.Errorf("failed to create API URL: %w", err)
	}
	apiURL = apiURL + "?url=" + url.QueryEscape(imageURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	log.Debugf("Sending image to model service: %s", imageURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model service request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read model service response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warnf("Model service returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
		return nil, fmt.Errorf("model service returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse model service response: %w", err)
	}

	log.Debugf("Model service returned %d leaf record(s)", len(result.Leafs))
	return &result, nil
}

// Ping checks whether the model service is reachable and answering
// successfully; an error status counts as unhealthy
func (c *Client) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
