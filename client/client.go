package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	goerrors "github.com/goliatone/go-errors"
	sessions "github.com/goliatone/go-sessions"
)

// Routes mirrors the server's authentication surface.
type Routes struct {
	Register string
	Login    string
	Me       string
	Logout   string
}

// Client talks to the session authority over HTTP and records every
// outcome in its state store. The session cookie rides in the client's
// cookie jar; callers never touch it directly.
type Client struct {
	httpClient *http.Client
	baseURL    string
	store      *StateStore
	logger     sessions.Logger
	routes     Routes
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

func WithStateStore(store *StateStore) ClientOption {
	return func(c *Client) {
		if store != nil {
			c.store = store
		}
	}
}

func WithClientLogger(logger sessions.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithRoutes(routes Routes) ClientOption {
	return func(c *Client) {
		c.routes = routes
	}
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create cookie jar")
	}

	c := &Client{
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
		},
		baseURL: baseURL,
		logger:  defLogger{},
		routes: Routes{
			Register: "/auth/register",
			Login:    "/auth/login",
			Me:       "/auth/me",
			Logout:   "/auth/logout",
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.store == nil {
		c.store = NewStateStore(NewMemoryStorage(), WithStateLogger(c.logger))
	}

	return c, nil
}

// State returns the store backing this client, for subscriptions and
// snapshot reads.
func (c *Client) State() *StateStore {
	return c.store
}

// RegisterInput is the payload for account creation.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// Register creates an account. A successful registration does not
// authenticate: the snapshot is left as it was and the caller logs in
// separately, typically after confirming the verification mail.
func (c *Client) Register(ctx context.Context, input RegisterInput) (*sessions.User, error) {
	version := c.store.Begin(OpRegister)

	user, err := c.postJSON(ctx, c.routes.Register, input)
	if err != nil {
		c.store.Reject(OpRegister, version, "User registration failed")
		return nil, err
	}

	c.store.Fulfill(OpRegister, version, nil)

	return user, nil
}

// Login exchanges credentials for a session. The session cookie lands
// in the jar; subsequent calls ride on it.
func (c *Client) Login(ctx context.Context, email, password string) (*sessions.User, error) {
	version := c.store.Begin(OpLogin)

	user, err := c.postJSON(ctx, c.routes.Login, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		c.store.Reject(OpLogin, version, "User login failed")
		return nil, err
	}

	c.store.Fulfill(OpLogin, version, user)

	return user, nil
}

// CheckSession asks the server whether the session is still live. Any
// failure, including a timeout, tears down the local belief: a session
// we cannot confirm is a session we do not have.
func (c *Client) CheckSession(ctx context.Context) (*sessions.User, error) {
	version := c.store.Begin(OpCheckSession)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.routes.Me, nil)
	if err != nil {
		c.store.Reject(OpCheckSession, version, "Authentication failed")
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build session check request")
	}
	req.Header.Set("Cache-Control", "no-cache")

	user, err := c.doRequest(req)
	if err != nil {
		c.store.Reject(OpCheckSession, version, "Authentication failed")
		return nil, err
	}

	c.store.Fulfill(OpCheckSession, version, user)

	return user, nil
}

// Logout revokes the session server side and clears local state. A
// server that already forgot the session still counts as success.
func (c *Client) Logout(ctx context.Context) error {
	version := c.store.Begin(OpLogout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.routes.Logout, nil)
	if err != nil {
		c.store.Reject(OpLogout, version, "Logout failed")
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build logout request")
	}

	if _, err := c.doRequest(req); err != nil {
		c.store.Reject(OpLogout, version, "Logout failed")
		return err
	}

	c.store.Fulfill(OpLogout, version, nil)

	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (*sessions.User, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode request payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req)
}

type apiEnvelope struct {
	Success bool           `json:"success"`
	Data    *sessions.User `json:"data"`
	Error   string         `json:"error"`
	Code    string         `json:"code"`
}

func (c *Client) doRequest(req *http.Request) (*sessions.User, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to read response")
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, goerrors.New(
			fmt.Sprintf("unexpected response with status %d", resp.StatusCode),
			goerrors.CategoryOperation,
		)
	}

	if resp.StatusCode >= 400 || !envelope.Success {
		message := envelope.Error
		if message == "" {
			message = fmt.Sprintf("request rejected with status %d", resp.StatusCode)
		}
		richErr := goerrors.New(message, goerrors.CategoryAuth).WithCode(resp.StatusCode)
		if envelope.Code != "" {
			richErr = richErr.WithTextCode(envelope.Code)
		}
		return nil, richErr
	}

	return envelope.Data, nil
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SESSIONS CLIENT "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SESSIONS CLIENT "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SESSIONS CLIENT "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SESSIONS CLIENT "+newline(format), args...)
}

func newline(str string) string {
	if len(str) > 0 && str[len(str)-1] != '\n' {
		str += "\n"
	}
	return str
}
