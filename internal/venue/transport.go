package venue

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const requestTimeout = 30 * time.Second

// restClient is the shared HTTP transport for venue adapters: per-venue rate
// limiting, a circuit breaker around order submission, HMAC request signing.
type restClient struct {
	venue     string
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
}

func newRESTClient(venueName, baseURL, apiKey, apiSecret string, requestsPerSecond float64) *restClient {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &restClient{
		venue:     venueName,
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: requestTimeout},
		limiter:   rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    venueName,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// doJSON sends a JSON request and decodes a JSON response. Non-2xx responses
// come back as errors carrying the response body.
func (c *restClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.send(ctx, method, path, body, out)
	})
	return err
}

func (c *restClient) send(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	var reader io.Reader
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.apiKey != "" {
		nonce := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-API-Key", c.apiKey)
		req.Header.Set("X-Nonce", nonce)
		req.Header.Set("X-Signature", c.sign(nonce, path, payload))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", c.venue, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s read response: %w", c.venue, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Venue: c.venue, Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, string(data))}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s decode response: %w", c.venue, err)
		}
	}
	return nil
}

// sign computes the HMAC-SHA256 request signature over nonce, path and body.
func (c *restClient) sign(nonce, path string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(nonce))
	mac.Write([]byte(path))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
