// Package notify delivers dispatch recommendations to outside systems.
// Subpackages hold the concrete sinks; this package holds the JSON poster
// they share and the fan-out used when several sinks are configured.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/lifeline/internal/session"
)

const (
	httpTimeout     = 10 * time.Second
	defaultTries    = 3
	defaultInitial  = 500 * time.Millisecond
	maxErrorBodyLen = 512
)

// Notifier receives a dispatch recommendation.
type Notifier interface {
	Notify(ctx context.Context, rec *session.DispatchRecommendation) error
}

// Multi fans a recommendation out to every notifier concurrently. One sink
// failing does not stop the others.
type Multi struct {
	notifiers []Notifier
}

// NewMulti drops nil notifiers.
func NewMulti(ns ...Notifier) *Multi {
	m := &Multi{}
	for _, n := range ns {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len is the number of configured notifiers.
func (m *Multi) Len() int { return len(m.notifiers) }

// Notify implements Notifier. The returned error joins every sink's failure.
func (m *Multi) Notify(ctx context.Context, rec *session.DispatchRecommendation) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, n := range m.notifiers {
		g.Go(func() error {
			if err := n.Notify(ctx, rec); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Client posts JSON payloads with retries on transport errors and 5xx
// responses.
type Client struct {
	http    *http.Client
	tries   uint
	initial time.Duration
	headers http.Header
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithRetry sets the attempt budget and the first backoff interval.
func WithRetry(tries uint, initial time.Duration) ClientOption {
	return func(c *Client) {
		c.tries = max(tries, 1)
		c.initial = initial
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) { c.headers.Add(key, value) }
}

// NewClient returns a Client with the given options applied.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http:    &http.Client{Timeout: httpTimeout},
		tries:   defaultTries,
		initial: defaultInitial,
		headers: make(http.Header),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StatusError is a non-2xx webhook response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned %d: %s", e.Code, e.Body)
}

// PostJSON marshals payload and posts it to url. 4xx responses are not
// retried.
func (c *Client) PostJSON(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.post(ctx, url, body)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.tries))
	return err
}

func (c *Client) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	for k, vs := range c.headers {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req) //nolint:gosec // G704: url is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	serr := &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(serr)
	}
	return serr
}
