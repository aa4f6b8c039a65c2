package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"digest-agent/internal/domain"
)

// inferenceRequest is the request shape for the agent inference endpoint.
type inferenceRequest struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("agentapi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client invokes remote agents over the inference endpoint. Responses come
// back as untyped trees; normalization is the caller's concern.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client backed by the given paramstore.Getter for API
// token retrieval. The token is fetched from SSM on the first Invoke and
// reused for the lifetime of the process.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("agentapi: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("agentapi: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL: "https://agent.api.lyzr.app",
		// Coordinator agents routinely take over a minute.
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveAPIKey fetches the API key from SSM on the first call and returns
// the cached result on every subsequent call within the same process.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
	})
	return c.apiKey, c.keyErr
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/agent-api-token"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 120 * time.Second}
}

func inferenceURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://agent.api.lyzr.app"
	}
	return base + "/v3/inference/chat/"
}

// Invoke sends a natural-language message to the identified agent. A fresh
// session ID is minted per invocation. Transport and HTTP-level failures are
// returned as errors; service-reported failures come back with
// InvokeResult.Success=false and the error text.
func (c *Client) Invoke(ctx context.Context, message, agentID string) (domain.InvokeResult, error) {
	if strings.TrimSpace(agentID) == "" {
		return domain.InvokeResult{}, errors.New("agentapi: agent id must not be empty")
	}

	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return domain.InvokeResult{}, err
	}

	body, err := json.Marshal(inferenceRequest{
		AgentID:   agentID,
		SessionID: newSessionID(),
		Message:   message,
	})
	if err != nil {
		return domain.InvokeResult{}, fmt.Errorf("agentapi: marshal request: %w", err)
	}

	url := inferenceURL(c.baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return domain.InvokeResult{}, fmt.Errorf("agentapi: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return domain.InvokeResult{}, fmt.Errorf("agentapi: request failed: %w", err)
	}

	return normalizeBody(raw), nil
}

// normalizeBody decodes the response body into the invoke contract. A body
// that is not valid JSON is still a usable outcome: the text is surfaced as a
// message field so the caller's degraded-parse recovery can display it.
func normalizeBody(raw []byte) domain.InvokeResult {
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return domain.InvokeResult{
			Success:  true,
			Response: map[string]any{"message": string(raw)},
		}
	}

	if obj, ok := tree.(map[string]any); ok {
		if success, present := obj["success"].(bool); present && !success {
			errText, _ := obj["error"].(string)
			return domain.InvokeResult{Success: false, Response: tree, Error: errText}
		}
	}
	return domain.InvokeResult{Success: true, Response: tree}
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("agentapi: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("agentapi: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("agentapi: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("agentapi: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("agentapi: API token is empty")
	}
	return tp.Token, nil
}

var newSessionID = func() string {
	return uuid.NewString()
}
