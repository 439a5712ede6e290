package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/chatgw/internal/observ"
	"github.com/Rajchodisetti/chatgw/internal/transport"
)

// Method is one of the REST verbs the API accepts
type Method = string

const (
	MethodGet    Method = http.MethodGet
	MethodPost   Method = http.MethodPost
	MethodPatch  Method = http.MethodPatch
	MethodDelete Method = http.MethodDelete
)

// Request describes one REST call. Params is any JSON-encodable value; its
// fields become query parameters for GET and the JSON body otherwise.
type Request struct {
	Method Method
	Path   string
	Params any
}

// HTTPError is returned for any non-2xx response
type HTTPError struct {
	Status     int
	StatusText string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("server returned status %d %s", e.Status, e.StatusText)
}

// Config for the REST client
type Config struct {
	Endpoint      string // base URL, e.g. https://discord.com/api/v9
	RatePerSecond int    // outbound request budget
}

// Client performs authenticated REST calls against a fixed base URL
type Client struct {
	endpoint string
	doer     transport.Doer
	limiter  *rate.Limiter

	mu    sync.RWMutex
	token string
}

// NewClient creates a REST client over the given transport
func NewClient(config Config, doer transport.Doer) *Client {
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 50
	}
	return &Client{
		endpoint: strings.TrimRight(config.Endpoint, "/"),
		doer:     doer,
		limiter:  rate.NewLimiter(rate.Limit(config.RatePerSecond), config.RatePerSecond),
	}
}

// SetToken installs the raw token sent in the Authorization header
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current token
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Do performs req and decodes the JSON response into out (which may be nil)
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u, err := url.Parse(c.endpoint + req.Path)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}

	params, err := encodeParams(req.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}

	var body io.Reader
	if req.Method == MethodGet {
		q := u.Query()
		for k, v := range params {
			s, err := queryValue(v)
			if err != nil {
				return fmt.Errorf("encode param %s: %w", k, err)
			}
			q.Set(k, s)
		}
		u.RawQuery = q.Encode()
	} else {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.Token())
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observ.Debug("api_request_failed", map[string]any{
			"method": req.Method,
			"path":   req.Path,
			"status": resp.StatusCode,
		})
		return &HTTPError{Status: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// encodeParams flattens a params value to its top-level JSON fields. Null
// fields are dropped.
func encodeParams(params any) (map[string]any, error) {
	out := map[string]any{}
	if params == nil {
		return out, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	for k, v := range out {
		if v == nil {
			delete(out, k)
		}
	}
	return out, nil
}

// queryValue renders one decoded JSON value for a query string. Arrays and
// objects stay JSON.
func queryValue(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FetchMessages lists the most recent messages of a channel, newest first
type FetchMessages struct {
	ChannelID ID  `json:"-"`
	Limit     int `json:"limit,omitempty"`
	Around    ID  `json:"around,omitempty"`
	Before    ID  `json:"before,omitempty"`
	After     ID  `json:"after,omitempty"`
}

// Messages performs a FetchMessages call
func (c *Client) Messages(ctx context.Context, req FetchMessages) ([]Message, error) {
	var messages []Message
	err := c.Do(ctx, Request{
		Method: MethodGet,
		Path:   "/channels/" + url.PathEscape(req.ChannelID) + "/messages",
		Params: req,
	}, &messages)
	if err != nil {
		return nil, fmt.Errorf("fetch messages for channel %s: %w", req.ChannelID, err)
	}
	return messages, nil
}
