// Package client calls a running mock over the direct-key surface. Test
// suites in other services use it to drive the mock the same way they
// would drive the real API.
package client

import (
	"bufio"
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

	"geminimock/internal/apierr"
	"geminimock/internal/gemini"
)

const maxResponseBytes = 32 << 20

type Config struct {
	BaseURL     string
	APIKey      string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 400 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{cfg: cfg}
}

func (c *Client) GenerateContent(ctx context.Context, model string, req *gemini.GenerateContentRequest) (*gemini.GenerateContentResponse, error) {
	var out gemini.GenerateContentResponse
	if err := c.call(ctx, model, "generateContent", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CountTokens(ctx context.Context, model string, req *gemini.CountTokensRequest) (*gemini.CountTokensResponse, error) {
	var out gemini.CountTokensResponse
	if err := c.call(ctx, model, "countTokens", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EmbedContent(ctx context.Context, model string, req *gemini.EmbedContentRequest) (*gemini.EmbedContentResponse, error) {
	var out gemini.EmbedContentResponse
	if err := c.call(ctx, model, "embedContent", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StreamGenerateContent reads the event stream and hands every chunk to fn.
// Streams are not retried once the first chunk has arrived.
func (c *Client) StreamGenerateContent(ctx context.Context, model string, req *gemini.GenerateContentRequest, fn func(*gemini.GenerateContentResponse) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	endpoint, err := c.endpoint(model, "streamGenerateContent", url.Values{"alt": {"sse"}})
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), maxResponseBytes)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var chunk gemini.GenerateContentResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		if err := fn(&chunk); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, model, action string, req, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	endpoint, err := c.endpoint(model, action, nil)
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	return nil
}

// send posts body and retries temporary failures with exponential backoff.
// The caller owns the returned body.
func (c *Client) send(ctx context.Context, endpoint string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		resp, retry, err := c.sendOnce(ctx, endpoint, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retry || attempt == c.cfg.MaxRetries {
			break
		}
		backoff := c.cfg.BackoffBase * (1 << attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

func (c *Client) sendOnce(ctx context.Context, endpoint string, body []byte) (resp *http.Response, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	}

	resp, err = c.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return resp, false, nil
	}
	defer resp.Body.Close()

	apiErr := decodeError(resp)
	retry = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return nil, retry, apiErr
}

// decodeError turns an error envelope into an *apierr.Error so callers can
// inspect the code with errors.As.
func decodeError(resp *http.Response) error {
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read error body: %w", err)
	}
	var env apierr.Envelope
	if err := json.Unmarshal(b, &env); err != nil || env.Error.Code == 0 {
		return apierr.New(resp.StatusCode, "unexpected status %d", resp.StatusCode)
	}
	return &apierr.Error{Code: env.Error.Code, Message: env.Error.Message, Details: env.Error.Details}
}

func (c *Client) endpoint(model, action string, query url.Values) (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if base == "" {
		return "", errors.New("base url is empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	model = strings.TrimPrefix(model, "models/")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1beta/models/" + model + ":" + action
	u.RawQuery = query.Encode()
	return u.String(), nil
}
