// Package broker submits compute and storage jobs to a payment-gated broker.
//
// Submissions go through an x402 executor, so a 402 challenge is paid once
// and retried. Job status lookups are unpaid and meant for trusted
// server-side callers only.
package broker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	x402 "github.com/brokerdash/x402pay"
	x402http "github.com/brokerdash/x402pay/http"
)

// Kind is a broker endpoint
type Kind string

const (
	KindRun   Kind = "run"
	KindStore Kind = "store"
	KindCache Kind = "cache"
)

// Kinds lists every submission kind
var Kinds = []Kind{KindRun, KindStore, KindCache}

// ParseKind validates a kind name
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown job kind %q", s)
}

// maxResponseBytes bounds how much of a broker response is read
const maxResponseBytes = 8 << 20

// maxErrorBytes bounds the body kept on a StatusError
const maxErrorBytes = 4 << 10

var (
	// ErrInvalidRequest is returned before anything is sent when a
	// submission is incomplete
	ErrInvalidRequest = errors.New("invalid job request")

	// ErrInvalidResponse is returned when a 2xx body is not a job document
	ErrInvalidResponse = errors.New("invalid broker response")
)

// StatusError is a terminal non-2xx broker response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("broker returned %d", e.StatusCode)
	}
	return fmt.Sprintf("broker returned %d: %s", e.StatusCode, e.Body)
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the client used for unpaid status lookups
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client talks to one broker
type Client struct {
	endpoint   string
	executor   *x402http.Executor
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a client for the broker at endpoint. The endpoint must
// not have a trailing slash.
func NewClient(endpoint string, executor *x402http.Executor, opts ...Option) (*Client, error) {
	if strings.HasSuffix(endpoint, "/") {
		return nil, errors.New("endpoint must not have a trailing slash")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid broker endpoint: %w", err)
	}
	if executor == nil {
		return nil, errors.New("executor is required")
	}

	c := &Client{
		endpoint:   endpoint,
		executor:   executor,
		httpClient: http.DefaultClient,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the broker base URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Run submits code for execution
func (c *Client) Run(ctx context.Context, req RunRequest) (*Submission, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}
	return c.Submit(ctx, KindRun, req)
}

// Store uploads a file
func (c *Client) Store(ctx context.Context, req StoreRequest) (*Submission, error) {
	if req.Filename == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidRequest)
	}
	if _, err := base64.StdEncoding.DecodeString(req.Content); err != nil {
		return nil, fmt.Errorf("%w: content must be base64", ErrInvalidRequest)
	}
	return c.Submit(ctx, KindStore, req)
}

// Cache writes a key to the broker cache
func (c *Client) Cache(ctx context.Context, req CacheRequest) (*Submission, error) {
	if req.Key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrInvalidRequest)
	}
	return c.Submit(ctx, KindCache, req)
}

// Submit posts payload to the kind endpoint, paying if asked to.
// Payment failures are returned as x402 payment errors, terminal broker
// responses as *StatusError.
func (c *Client) Submit(ctx context.Context, kind Kind, payload interface{}) (*Submission, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/"+string(kind), bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	result, err := c.executor.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	defer result.Response.Body.Close()

	if result.Response.StatusCode < 200 || result.Response.StatusCode > 299 {
		return nil, statusError(result.Response)
	}

	body, job, err := readJob(result.Response.Body)
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("kind", string(kind)).
		Str("job_id", job.JobID).
		Str("status", job.Status).
		Bool("paid", result.Paid()).
		Msg("broker job submitted")

	return &Submission{
		Kind:       kind,
		Job:        job,
		Body:       body,
		Payment:    result.Payment,
		Settlement: result.Settlement,
	}, nil
}

// Status fetches the current state of a job. It never pays: a 402 here is
// returned as a *StatusError.
func (c *Client) Status(ctx context.Context, jobID string) (*JobResponse, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: job id is required", ErrInvalidRequest)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	_, job, err := readJob(resp.Body)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func readJob(r io.Reader) ([]byte, JobResponse, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxResponseBytes))
	if err != nil {
		return nil, JobResponse{}, fmt.Errorf("failed to read broker response: %w", err)
	}

	var job JobResponse
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, JobResponse{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if job.JobID == "" {
		return nil, JobResponse{}, fmt.Errorf("%w: missing jobId", ErrInvalidResponse)
	}
	return body, job, nil
}

func statusError(resp *http.Response) *StatusError {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(snippet)),
	}
}

// IsPaymentError reports whether err came from the payment path rather
// than from the broker itself
func IsPaymentError(err error) bool {
	return x402.ErrorCode(err) != ""
}
