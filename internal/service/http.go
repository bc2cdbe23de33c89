package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/p-n-ai/pai-learn/internal/outline"
)

// Client talks to the learning backend over HTTP. The same backend hosts
// both the curriculum and progress endpoints, so one client implements
// both interfaces.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a backend client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	_ Curriculum = (*Client)(nil)
	_ Progress   = (*Client)(nil)
)

func (c *Client) FetchOutline(ctx context.Context, courseID string) (*outline.Outline, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/courses/%s/outline", courseID), nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, fmt.Errorf("read outline body: %w", err)
		}
		o, err := outline.Decode(data)
		if err != nil {
			return nil, false, err
		}
		return o, false, nil
	case http.StatusAccepted:
		return nil, true, nil
	default:
		return nil, false, statusError(resp)
	}
}

func (c *Client) GenerateBlocks(ctx context.Context, lessonID string) ([]outline.Block, error) {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/lessons/%s/blocks", lessonID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var body struct {
		Blocks []outline.Block `json:"blocks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode blocks: %w", err)
	}
	return body.Blocks, nil
}

func (c *Client) RegenerateOutline(ctx context.Context, courseID string) (*outline.Outline, error) {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/courses/%s/outline/regenerate", courseID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read outline body: %w", err)
	}
	return outline.Decode(data)
}

func (c *Client) ConfirmBlockComplete(ctx context.Context, lessonID, blockID string) error {
	resp, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/v1/lessons/%s/blocks/%s/complete", lessonID, blockID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError(resp)
	}
	return nil
}

func (c *Client) ConfirmLessonComplete(ctx context.Context, lessonID string) (LessonResult, error) {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/lessons/%s/complete", lessonID), nil)
	if err != nil {
		return LessonResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return LessonResult{}, statusError(resp)
	}

	var result LessonResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return LessonResult{}, fmt.Errorf("decode lesson result: %w", err)
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, data)
	}
	return fmt.Errorf("backend error: status %d: %s", resp.StatusCode, data)
}
