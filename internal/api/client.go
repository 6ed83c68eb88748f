// Package api is the HTTP client of the productivity backend. It implements the assistant submit primitive, remote
// suggestion execution, and the authoritative item store.
package api

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

	"golang.org/x/oauth2"

	"github.com/cchalm/gtd-copilot/internal/chat"
	"github.com/cchalm/gtd-copilot/internal/items"
	"github.com/cchalm/gtd-copilot/internal/suggestion"
	"github.com/cchalm/gtd-copilot/internal/transport"
)

const maxErrorBody = 4096

// StatusError is returned for responses outside the 2xx range
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is lets a 404 match items.ErrNoSuchItem
func (e *StatusError) Is(target error) bool {
	return target == items.ErrNoSuchItem && e.StatusCode == http.StatusNotFound
}

// Client talks to the backend API
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// NewClient creates a client for the API at baseURL. A non-empty token is sent as a bearer token. Requests that are
// rate limited or hit a temporarily unavailable server are retried.
func NewClient(ctx context.Context, baseURL string, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse API url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("API url %q must be absolute", baseURL)
	}

	base := &http.Client{Transport: transport.WithRetries(nil)}
	httpClient := base
	if token != "" {
		tokenSource := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base), tokenSource)
	}

	return &Client{baseURL: u, http: httpClient}, nil
}

// Submit sends an utterance to the assistant and returns the NDJSON event stream of its answer
func (c *Client) Submit(ctx context.Context, req chat.SubmitRequest) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodPost, "/chat/completions/stream", req, "application/x-ndjson")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

type executeRequest struct {
	ToolCall       suggestion.Suggestion `json:"toolCall"`
	ConversationID string                `json:"conversationId"`
}

type executeResponse struct {
	CreatedItems []items.CreatedItemRef `json:"createdItems"`
}

// Execute has the backend carry out a suggestion
func (c *Client) Execute(ctx context.Context, s suggestion.Suggestion, conversationID string) ([]items.CreatedItemRef, error) {
	var out executeResponse
	err := c.doJSON(ctx, http.MethodPost, "/chat/execute-tool", executeRequest{ToolCall: s, ConversationID: conversationID}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s: %w", s.Kind, err)
	}
	return out.CreatedItems, nil
}

func (c *Client) List(ctx context.Context, partition items.Partition) (items.Collection, error) {
	var out items.Collection
	path := "/items?partition=" + url.QueryEscape(string(partition))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list %s items: %w", partition, err)
	}
	if out == nil {
		out = items.Collection{}
	}
	return out, nil
}

func (c *Client) Create(ctx context.Context, draft items.Draft) (items.Item, error) {
	var out items.Item
	if err := c.doJSON(ctx, http.MethodPost, "/items", draft, &out); err != nil {
		return items.Item{}, fmt.Errorf("failed to create item: %w", err)
	}
	return out, nil
}

func (c *Client) Patch(ctx context.Context, id string, patch items.Patch) (items.Item, error) {
	var out items.Item
	if err := c.doJSON(ctx, http.MethodPatch, "/items/"+url.PathEscape(id), patch, &out); err != nil {
		return items.Item{}, fmt.Errorf("failed to update item %s: %w", id, err)
	}
	return out, nil
}

func (c *Client) Archive(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodPost, "/items/"+url.PathEscape(id)+"/archive", nil, nil); err != nil {
		return fmt.Errorf("failed to archive item %s: %w", id, err)
	}
	return nil
}

// doJSON sends body as JSON and decodes the response into out, if out is non-nil
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// do sends a request and returns the response if its status is 2xx. The caller must close the body.
func (c *Client) do(ctx context.Context, method, path string, body any, accept string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Method:     method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(b)),
		}
	}
	return resp, nil
}
