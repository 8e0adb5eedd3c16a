// Package remotecart talks to the cart service over HTTP. It never retries and
// never falls back; callers decide what to do with an error.
package remotecart

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
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/pkg/circuitbreaker"
	"github.com/fjod/go_cart/pkg/domain"
)

const (
	apiPrefix       = "/api/v1"
	defaultTimeout  = 10 * time.Second
	SessionHeader   = "X-Session-ID"
	maxErrorPayload = 4 << 10
)

// StatusError is a non-2xx response from the cart service.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("cart service returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("cart service returned %d: %s", e.StatusCode, e.Message)
}

// IsClientError reports a 4xx response, i.e. the service itself is healthy.
func IsClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details"`
}

type mergeRequest struct {
	GuestCartID string            `json:"guestCartId"`
	Items       []domain.CartItem `json:"items"`
}

type updateRequest struct {
	Quantity int `json:"quantity"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	log        *zap.Logger

	mu        sync.RWMutex
	sessionID string
	token     string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

func WithSession(sessionID string) Option {
	return func(c *Client) { c.sessionID = sessionID }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient builds a client for the service at baseURL. Without WithBreaker a
// breaker with default settings is used, ignoring 4xx responses.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = NewHTTPClient(defaultTimeout)
	}
	if c.breaker == nil {
		s := circuitbreaker.DefaultSettings("cart-service")
		s.IsSuccessful = func(err error) bool { return err == nil || IsClientError(err) }
		c.breaker = circuitbreaker.New(s, c.log)
	}
	return c
}

// NewHTTPClient returns an otelhttp-instrumented client with a hard timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func (c *Client) SetSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Client) Get(ctx context.Context) (*domain.Cart, error) {
	var cart domain.Cart
	if err := c.do(ctx, http.MethodGet, "/cart", nil, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *Client) AddItem(ctx context.Context, item domain.NewItem) (*domain.Cart, error) {
	var cart domain.Cart
	if err := c.do(ctx, http.MethodPost, "/cart/items", item, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *Client) UpdateItem(ctx context.Context, itemID string, quantity int) (*domain.Cart, error) {
	var cart domain.Cart
	path := "/cart/items/" + url.PathEscape(itemID)
	if err := c.do(ctx, http.MethodPut, path, updateRequest{Quantity: quantity}, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *Client) RemoveItem(ctx context.Context, itemID string) (*domain.Cart, error) {
	var cart domain.Cart
	path := "/cart/items/" + url.PathEscape(itemID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *Client) Clear(ctx context.Context) (*domain.Cart, error) {
	var cart domain.Cart
	if err := c.do(ctx, http.MethodDelete, "/cart", nil, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *Client) Summary(ctx context.Context) (*domain.Summary, error) {
	var summary domain.Summary
	if err := c.do(ctx, http.MethodGet, "/cart/summary", nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Merge asks the service to fold the guest cart into the authenticated customer's
// cart. guest.Items are lines the service has not seen, such as ones written to
// the local store while it was unreachable.
func (c *Client) Merge(ctx context.Context, guest *domain.Cart) (*domain.Cart, error) {
	req := mergeRequest{Items: []domain.CartItem{}}
	if guest != nil {
		req.GuestCartID = guest.ID
		req.Items = guest.Items
	}

	var cart domain.Cart
	if err := c.do(ctx, http.MethodPost, "/cart/merge", req, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	_, err := circuitbreaker.Execute(c.breaker, func() (struct{}, error) {
		return struct{}{}, c.roundTrip(ctx, method, path, body, out)
	})
	if err != nil {
		c.log.Debug("cart service call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	if c.sessionID != "" {
		req.Header.Set(SessionHeader, c.sessionID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call cart service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeStatusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorPayload))
	se := &StatusError{StatusCode: resp.StatusCode}

	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && (body.Error != "" || body.Code != "") {
		se.Code = body.Code
		se.Message = body.Error
		return se
	}
	se.Message = strings.TrimSpace(string(raw))
	if se.Message == "" {
		se.Message = http.StatusText(resp.StatusCode)
	}
	return se
}
