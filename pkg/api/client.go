package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/go-go-golems/deepdiagram/pkg/helpers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultTimeout = 60 * time.Second

// Client talks to the deepdiagram backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds the non-streaming calls. Chat streams are only bound by their context.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

func NewClient(baseURL string, options ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid base url %s", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("invalid base url %s: scheme must be http or https", baseURL)
	}

	ret := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
	for _, o := range options {
		o(ret)
	}
	return ret, nil
}

func (c *Client) newRequest(ctx context.Context, method string, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "could not encode request")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(helpers.CorrelationIDHeader, helpers.CorrelationIDFromContext(ctx))
	return req, nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("correlation_id", req.Header.Get(helpers.CorrelationIDHeader)).
		Msg("sending backend request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{
			Method:     req.Method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method string, path string, body interface{}, out interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "could not decode response of %s %s", method, path)
	}
	return nil
}

func (c *Client) ListSessions(ctx context.Context) ([]conversation.Session, error) {
	var records []sessionRecord
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &records); err != nil {
		return nil, err
	}
	ret := make([]conversation.Session, 0, len(records))
	for i := range records {
		ret = append(ret, records[i].toSession())
	}
	return ret, nil
}

// GetSessionMessages returns the flat message list of a session in the order
// the backend stores them.
func (c *Client) GetSessionMessages(ctx context.Context, id conversation.SessionID) ([]*conversation.Message, error) {
	var records []messageRecord
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/sessions/%d", id), nil, &records); err != nil {
		return nil, err
	}
	ret := make([]*conversation.Message, 0, len(records))
	for i := range records {
		ret = append(ret, records[i].toMessage())
	}
	return ret, nil
}

func (c *Client) DeleteSession(ctx context.Context, id conversation.SessionID) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/sessions/%d", id), nil, nil)
}

// StreamChat posts a prompt and returns the open event stream. The caller
// must Close it.
func (c *Client) StreamChat(ctx context.Context, request ChatRequest) (*Stream, error) {
	if request.Images == nil {
		request.Images = []string{}
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat/completions", request)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	return &Stream{body: resp.Body, decoder: NewStreamDecoder(resp.Body)}, nil
}
