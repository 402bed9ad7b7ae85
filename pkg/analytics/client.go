// Package analytics is the HTTP client of the remote analytics API: chat
// sessions, streamed assistant answers, persisted history and feedback.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/notebookchat/pkg/models"
	"github.com/codeready-toolchain/notebookchat/pkg/session"
	"github.com/codeready-toolchain/notebookchat/pkg/version"
)

// Client provides HTTP access to the analytics API.
// It implements session.API.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	token          string
	requestTimeout time.Duration
	logger         *slog.Logger
}

var _ session.API = (*Client)(nil)

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL        string
	Token          string        // optional bearer token
	RequestTimeout time.Duration // per-request timeout for non-streaming calls (default: 30s)
	HTTPClient     *http.Client  // optional; must not set a Timeout, streams are long-lived
}

// NewClient creates an analytics API client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:     httpClient,
		token:          cfg.Token,
		requestTimeout: timeout,
		logger:         slog.With("component", "analytics"),
	}
}

// CreateSession creates an upstream chat for a notebook or datasource and
// returns its id.
func (c *Client) CreateSession(ctx context.Context, target models.Target) (string, error) {
	var collection string
	switch target.Scope {
	case models.ScopeNotebook:
		collection = "notebooks"
	case models.ScopeDatasource:
		collection = "datasources"
	default:
		return "", fmt.Errorf("unsupported chat scope %q", target.Scope)
	}

	var resp struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/api/v1/%s/%s/chats", collection, url.PathEscape(target.ID))
	if err := c.doJSON(ctx, http.MethodPost, path, struct{}{}, &resp); err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create chat: response has no id")
	}
	return resp.ID, nil
}

// SubmitQuery posts a query and returns its live event stream. The stream
// stays open until the server ends it, ctx is done or it is closed.
func (c *Client) SubmitQuery(ctx context.Context, chatID, text string) (session.Stream, error) {
	body, err := json.Marshal(map[string]string{"query": text})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+fmt.Sprintf("/api/v1/chats/%s/messages", url.PathEscape(chatID)), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.setDefaultHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit query: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("submit query: %w", readAPIError(resp))
	}

	return newEventStream(resp.Body, c.logger.With("chat_id", chatID)), nil
}

// StopGeneration asks the server to stop generating the given message.
func (c *Client) StopGeneration(ctx context.Context, chatID, messageID string) error {
	path := fmt.Sprintf("/api/v1/chats/%s/messages/%s/stop", url.PathEscape(chatID), url.PathEscape(messageID))
	if err := c.doJSON(ctx, http.MethodPost, path, struct{}{}, nil); err != nil {
		return fmt.Errorf("stop generation: %w", err)
	}
	return nil
}

// FetchTurn fetches the persisted record of one message.
func (c *Client) FetchTurn(ctx context.Context, chatID, messageID string) (*models.ChatRecord, error) {
	var rec models.ChatRecord
	path := fmt.Sprintf("/api/v1/chats/%s/messages/%s", url.PathEscape(chatID), url.PathEscape(messageID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &rec); err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", messageID, err)
	}
	return &rec, nil
}

// FetchHistoryPage fetches one page of persisted records.
func (c *Client) FetchHistoryPage(ctx context.Context, chatID string, page models.PageRequest) ([]models.ChatRecord, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(page.Skip))
	q.Set("limit", strconv.Itoa(page.Limit))
	sort := page.Sort
	if sort == "" {
		sort = models.SortDesc
	}
	q.Set("sort", string(sort))

	var raw json.RawMessage
	path := fmt.Sprintf("/api/v1/chats/%s/messages?%s", url.PathEscape(chatID), q.Encode())
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch history page: %w", err)
	}

	records, err := decodePage(raw)
	if err != nil {
		return nil, fmt.Errorf("decode history page: %w", err)
	}
	return records, nil
}

// decodePage accepts a bare array or an object wrapping it in "items".
func decodePage(raw json.RawMessage) ([]models.ChatRecord, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var records []models.ChatRecord
	if raw[0] == '[' {
		err := json.Unmarshal(raw, &records)
		return records, err
	}
	var wrapped struct {
		Items []models.ChatRecord `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Items, nil
}

// SubmitFeedback rates an assistant message.
func (c *Client) SubmitFeedback(ctx context.Context, messageID string, fb models.Feedback) error {
	path := fmt.Sprintf("/api/v1/messages/%s/feedback", url.PathEscape(messageID))
	if err := c.doJSON(ctx, http.MethodPost, path, fb, nil); err != nil {
		return fmt.Errorf("submit feedback: %w", err)
	}
	return nil
}

// doJSON performs a non-streaming request. in is encoded as the JSON body
// when non-nil; out receives the decoded response when non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.setDefaultHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*maxErrorBody))
	return newAPIError(resp.StatusCode, body)
}

func (c *Client) setDefaultHeaders(req *http.Request) {
	req.Header.Set("User-Agent", version.Full())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
