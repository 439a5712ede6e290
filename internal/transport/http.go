package transport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Rajchodisetti/chatgw/internal/observ"
)

// HTTPClient implements Doer over net/http and records request metrics
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient creates a REST doer
func NewHTTPClient(config Config) *HTTPClient {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &HTTPClient{
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Do performs one round trip
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.client.Do(req)

	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	labels := map[string]string{"method": req.Method, "status": status}
	observ.IncCounter("rest_requests_total", labels)
	observ.RecordDuration("rest_request", time.Since(start), map[string]string{"method": req.Method})

	return resp, err
}
