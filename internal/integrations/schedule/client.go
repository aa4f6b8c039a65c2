// Package schedule is a thin client for the remote schedule-management
// service that runs the weekly digest on a cron. The cron engine itself is
// out of scope; this package only consumes its HTTP API.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Schedule is one managed schedule as reported by the service.
type Schedule struct {
	ID             string `json:"id"`
	CronExpression string `json:"cron_expression"`
	Timezone       string `json:"timezone"`
	IsActive       bool   `json:"is_active"`
	NextRunTime    string `json:"next_run_time"`
	LastRunAt      string `json:"last_run_at"`
	LastRunSuccess *bool  `json:"last_run_success"`
}

// ExecutionLog is one entry of a schedule's execution history.
type ExecutionLog struct {
	ID           string `json:"id"`
	ExecutedAt   string `json:"executed_at"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message"`
}

// envelope is the service's success-flag response wrapper.
type envelope struct {
	Success    bool           `json:"success"`
	Error      string         `json:"error"`
	Schedule   *Schedule      `json:"schedule"`
	Schedules  []Schedule     `json:"schedules"`
	Executions []ExecutionLog `json:"executions"`
}

type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client talks to the schedule-management API.
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

// NewClient creates a Client. The API token is shared with the agent service
// and resolved lazily from SSM.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("schedule: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("schedule: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     "https://agent.api.lyzr.app",
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		raw, err := c.getter.GetParameter(ctx, c.paramPrefix+"/agent-api-token")
		if err != nil {
			c.keyErr = fmt.Errorf("schedule: fetch token from paramstore: %w", err)
			return
		}
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			c.keyErr = fmt.Errorf("schedule: unmarshal paramstore token value as JSON: %w", err)
			return
		}
		if tp.Token == "" {
			c.keyErr = errors.New("schedule: API token is empty")
			return
		}
		c.apiKey = tp.Token
	})
	return c.apiKey, c.keyErr
}

// Get fetches a single schedule by id.
func (c *Client) Get(ctx context.Context, id string) (Schedule, error) {
	env, err := c.call(ctx, http.MethodGet, "/v1/schedules/"+id)
	if err != nil {
		return Schedule{}, err
	}
	if env.Schedule == nil {
		return Schedule{}, errors.New("schedule: response missing schedule")
	}
	return *env.Schedule, nil
}

// List fetches all schedules.
func (c *Client) List(ctx context.Context) ([]Schedule, error) {
	env, err := c.call(ctx, http.MethodGet, "/v1/schedules")
	if err != nil {
		return nil, err
	}
	return env.Schedules, nil
}

// Pause deactivates the schedule.
func (c *Client) Pause(ctx context.Context, id string) error {
	_, err := c.call(ctx, http.MethodPost, "/v1/schedules/"+id+"/pause")
	return err
}

// Resume reactivates the schedule.
func (c *Client) Resume(ctx context.Context, id string) error {
	_, err := c.call(ctx, http.MethodPost, "/v1/schedules/"+id+"/resume")
	return err
}

// TriggerNow requests an immediate out-of-band execution.
func (c *Client) TriggerNow(ctx context.Context, id string) error {
	_, err := c.call(ctx, http.MethodPost, "/v1/schedules/"+id+"/trigger")
	return err
}

// Logs fetches the most recent execution log entries.
func (c *Client) Logs(ctx context.Context, id string, limit int) ([]ExecutionLog, error) {
	path := "/v1/schedules/" + id + "/executions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	env, err := c.call(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	return env.Executions, nil
}

func (c *Client) call(ctx context.Context, method, path string) (envelope, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return envelope{}, err
	}

	base := strings.TrimRight(c.baseURL, "/")
	url := base + path

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return envelope{}, fmt.Errorf("schedule: create request: %w", err)
	}
	req.Header.Set("x-api-key", apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("schedule: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return envelope{}, fmt.Errorf("schedule: read response body: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return envelope{}, fmt.Errorf("schedule: unexpected status %d from %s: %s", res.StatusCode, url, string(buf))
	}

	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return envelope{}, fmt.Errorf("schedule: decode response: %w", err)
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "request was not successful"
		}
		return envelope{}, fmt.Errorf("schedule: %s", msg)
	}
	return env, nil
}

var dayNames = map[string]string{
	"0": "Sunday", "1": "Monday", "2": "Tuesday", "3": "Wednesday",
	"4": "Thursday", "5": "Friday", "6": "Saturday", "7": "Sunday",
}

// CronToHuman renders common five-field cron expressions for display.
// Expressions it cannot summarize are echoed back unchanged.
func CronToHuman(expr string) string {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return expr
	}
	minute, err := strconv.Atoi(fields[0])
	if err != nil || minute < 0 || minute > 59 {
		return expr
	}
	hour, err := strconv.Atoi(fields[1])
	if err != nil || hour < 0 || hour > 23 {
		return expr
	}
	if fields[2] != "*" || fields[3] != "*" {
		return expr
	}
	at := fmt.Sprintf("%02d:%02d", hour, minute)
	if fields[4] == "*" {
		return "Every day at " + at
	}
	if day, ok := dayNames[fields[4]]; ok {
		return "Every " + day + " at " + at
	}
	return expr
}
