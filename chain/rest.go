package chain

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mezonai/msig/jsonx"
)

// RESTClient posts JSON bodies to a node's HTTP API.
type RESTClient struct {
	baseURL string
	headers map[string]string
	http    *http.Client
}

func NewRESTClient(baseURL string, headers map[string]string, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
		http:    &http.Client{Timeout: timeout},
	}
}

// Post sends body to path and decodes the JSON response into out.
func (c *RESTClient) Post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := jsonx.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request to %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+strings.TrimLeft(path, "/"), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: status code %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := jsonx.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response of %s: %w", path, err)
	}
	return nil
}
