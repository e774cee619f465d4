package user

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"user_console/internal/observability"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrInvalidPage   = errors.New("page must be at least 1")
	ErrMissingID     = errors.New("user id is required")
	ErrInvalidConfig = errors.New("invalid api client configuration")
)

// API is the remote user service the console is a front end for.
type API interface {
	ListUsers(ctx context.Context, page, pageSize int) ([]User, error)
	GetUser(ctx context.Context, id string) (User, error)
	CreateUser(ctx context.Context, u User) error
	UpdateUser(ctx context.Context, id string, u User) error
	DeleteUser(ctx context.Context, id string) error
}

// APIError is returned for any non-2xx answer.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Operation, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// IsRetryable reports whether a failed call is worth repeating. Network
// failures, 5xx and 429 are transient; everything the server rejected is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}

	var verr *ValidationError
	if errors.As(err, &verr) || errors.Is(err, ErrInvalidPage) || errors.Is(err, ErrMissingID) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

type ClientConfig struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	UpdateMethod string // PUT or PATCH
}

// HTTPClient talks to the user API over REST.
type HTTPClient struct {
	baseURL      *url.URL
	token        string
	updateMethod string
	http         *http.Client
}

type listResponse struct {
	Data []User `json:"data"`
}

type itemResponse struct {
	Data User `json:"data"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewHTTPClient(cfg ClientConfig) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: base url %q", ErrInvalidConfig, cfg.BaseURL)
	}

	method := strings.ToUpper(cfg.UpdateMethod)
	switch method {
	case "":
		method = http.MethodPut
	case http.MethodPut, http.MethodPatch:
	default:
		return nil, fmt.Errorf("%w: update method %q", ErrInvalidConfig, cfg.UpdateMethod)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPClient{
		baseURL:      base,
		token:        cfg.Token,
		updateMethod: method,
		http:         &http.Client{Timeout: timeout},
	}, nil
}

// ListUsers returns one page of users. The result never exceeds pageSize.
func (c *HTTPClient) ListUsers(ctx context.Context, page, pageSize int) ([]User, error) {
	if page < 1 {
		return nil, ErrInvalidPage
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(pageSize))

	var res listResponse
	if err := c.do(ctx, "list", http.MethodGet, c.endpoint(query, "users"), nil, &res); err != nil {
		return nil, err
	}

	users := res.Data
	if users == nil {
		users = []User{}
	}
	if pageSize > 0 && len(users) > pageSize {
		logrus.WithFields(logrus.Fields{
			"page":      page,
			"page_size": pageSize,
			"returned":  len(users),
		}).Warn("User API returned an oversized page, truncating")
		users = users[:pageSize]
	}
	return users, nil
}

// GetUser returns a single user without its password.
func (c *HTTPClient) GetUser(ctx context.Context, id string) (User, error) {
	if id == "" {
		return User{}, ErrMissingID
	}

	var res itemResponse
	if err := c.do(ctx, "get", http.MethodGet, c.endpoint(nil, "users", id), nil, &res); err != nil {
		return User{}, err
	}
	return res.Data.WithoutPassword(), nil
}

func (c *HTTPClient) CreateUser(ctx context.Context, u User) error {
	u.ID = ""
	return c.do(ctx, "create", http.MethodPost, c.endpoint(nil, "users"), u, nil)
}

// UpdateUser sends the record to the update endpoint. An empty password is
// left out so the server keeps the stored one.
func (c *HTTPClient) UpdateUser(ctx context.Context, id string, u User) error {
	if id == "" {
		return ErrMissingID
	}
	u.ID = id
	return c.do(ctx, "update", c.updateMethod, c.endpoint(nil, "users", id), u, nil)
}

func (c *HTTPClient) DeleteUser(ctx context.Context, id string) error {
	if id == "" {
		return ErrMissingID
	}
	return c.do(ctx, "delete", http.MethodDelete, c.endpoint(nil, "users", id), nil, nil)
}

func (c *HTTPClient) endpoint(query url.Values, segments ...string) string {
	u := c.baseURL.JoinPath(segments...)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *HTTPClient) do(ctx context.Context, op, method, endpoint string, body, out any) error {
	start := time.Now()
	status := "error"
	defer func() {
		observability.GlobalMetrics.APIRequestsTotal.WithLabelValues(op, status).Inc()
		observability.GlobalMetrics.APIRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"operation": op,
			"method":    method,
		}).Error("User API request failed")
		return fmt.Errorf("%s: %w", op, err)
	}
	defer res.Body.Close()

	status = strconv.Itoa(res.StatusCode)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		apiErr := &APIError{Operation: op, StatusCode: res.StatusCode, Message: readErrorMessage(res.Body)}
		logrus.WithFields(logrus.Fields{
			"operation": op,
			"status":    res.StatusCode,
		}).Warn("User API rejected request")
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4<<10))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var body errorResponse
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
