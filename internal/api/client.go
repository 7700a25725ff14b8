// Package api is the HTTP client for the remote task service.
//
// Every authenticated call funnels through Client.do, which is the single
// place where an authorization failure is reported to the unauthorized hook.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Joseda-hg/tasksync/internal/logging"
	"github.com/Joseda-hg/tasksync/internal/model"
)

var (
	// ErrUnauthorized is returned when an authenticated call is rejected with 401.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned by Login when the server rejects the username/password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotFound is returned by GetTask when the server has no such task for the user.
	ErrNotFound = errors.New("not found")
)

// StatusError is any other non-2xx answer.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Message)
}

type Client struct {
	baseURL        string
	http           *http.Client
	onUnauthorized func()
	logger         *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithUnauthorizedHandler installs the hook fired on every 401 from an authenticated call.
func WithUnauthorizedHandler(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http = &http.Client{Timeout: timeout, Transport: c.http.Transport}
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDefault(c.logger)
	return c
}

// SetUnauthorizedHandler replaces the hook after construction.
func (c *Client) SetUnauthorizedHandler(fn func()) {
	c.onUnauthorized = fn
}

type listResponse struct {
	Tasks []model.Task `json:"tasks"`
	model.PageInfo
}

func (c *Client) ListTasks(ctx context.Context, token string, query url.Values) (model.TaskPage, error) {
	path := "/tasks"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var body listResponse
	if err := c.do(ctx, http.MethodGet, path, token, nil, &body); err != nil {
		return model.TaskPage{}, err
	}
	if body.Tasks == nil {
		body.Tasks = []model.Task{}
	}
	return model.TaskPage{Tasks: body.Tasks, Page: body.PageInfo}, nil
}

func (c *Client) GetTask(ctx context.Context, token string, id int64) (model.Task, error) {
	var task model.Task
	err := c.do(ctx, http.MethodGet, taskPath(id), token, nil, &task)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return model.Task{}, ErrNotFound
	}
	if err != nil {
		return model.Task{}, err
	}
	return task, nil
}

func (c *Client) CreateTask(ctx context.Context, token string, input model.TaskInput) error {
	return c.do(ctx, http.MethodPost, "/tasks", token, input, nil)
}

func (c *Client) UpdateTask(ctx context.Context, token string, id int64, input model.TaskInput) error {
	return c.do(ctx, http.MethodPut, taskPath(id), token, input, nil)
}

func (c *Client) DeleteTask(ctx context.Context, token string, id int64) error {
	return c.do(ctx, http.MethodDelete, taskPath(id), token, nil, nil)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var body struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/login", "", credentials{Username: username, Password: password}, &body)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusUnauthorized {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(body.Token) == "" {
		return "", fmt.Errorf("login: server returned no token")
	}
	return body.Token, nil
}

func (c *Client) Register(ctx context.Context, username, password string) error {
	return c.do(ctx, http.MethodPost, "/register", "", credentials{Username: username, Password: password}, nil)
}

func taskPath(id int64) string {
	return "/tasks/" + strconv.FormatInt(id, 10)
}

// do sends one request. An empty token marks the call as unauthenticated,
// which keeps it out of the unauthorized hook.
func (c *Client) do(ctx context.Context, method, path, token string, payload, out any) error {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "request_id", requestID, "error", err)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("request done",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(started))

	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return ErrUnauthorized
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(data)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}
