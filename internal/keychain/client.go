package keychain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"example.com/flightlog/internal/common"
)

// DefaultEndpoint is the vendor key-issuance service. Overridable via Config
// for testing and on-premise mirrors.
const DefaultEndpoint = "https://keychains.flightlog-vendor.example.com/v1/keychains"

const (
	defaultTimeout = 10 * time.Second
	defaultBackoff = 500 * time.Millisecond
)

// ErrEmptyKeychain is returned when the service is reachable but has no
// usable key material for an encrypted file. Never retried.
var ErrEmptyKeychain = errors.New("keychain service returned no usable keychain")

// APIKeyError reports a rejected credential. Never retried.
type APIKeyError struct {
	Status int
	Detail string
}

func (e *APIKeyError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("keychain service rejected api key (status %d)", e.Status)
	}
	return fmt.Sprintf("keychain service rejected api key (status %d): %s", e.Status, e.Detail)
}

// NetworkError reports an unreachable or timed-out service after the retry
// budget has been spent.
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("keychain service unreachable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Config is the caller-supplied keychain service configuration.
type Config struct {
	APIKey   string
	Endpoint string        // empty means DefaultEndpoint
	Timeout  time.Duration // per-attempt network timeout, default 10s
	Backoff  time.Duration // delay before the single retry, default 500ms
}

// Range is one timeline span needing key material, in milliseconds.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Request identifies the file whose keychains are wanted.
type Request struct {
	Serial  string  `json:"serial"`
	Version int     `json:"version"`
	Ranges  []Range `json:"ranges"`
}

type wireKeychain struct {
	Start int64  `json:"start"`
	End   int64  `json:"end"`
	Key   string `json:"key"` // base64
	IV    string `json:"iv"`  // base64
}

type wireResponse struct {
	Keychains []wireKeychain `json:"keychains"`
}

// Client fetches keychains from the vendor service. It is the only component
// in the decode pipeline that performs I/O.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Fetch requests keychains for the given timeline ranges. Transport failures
// and 5xx responses are retried exactly once after a backoff; a rejected API
// key and an empty keychain list are surfaced immediately.
func (c *Client) Fetch(ctx context.Context, req Request) (Set, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode keychain request: %w", err)
	}

	const maxAttempts = 2
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			common.Logf("keychain fetch retrying after %v: %v", c.cfg.Backoff, lastErr)
			select {
			case <-time.After(c.cfg.Backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		set, err := c.fetchOnce(ctx, body)
		if err == nil {
			return set, nil
		}
		var apiErr *APIKeyError
		if errors.As(err, &apiErr) || errors.Is(err, ErrEmptyKeychain) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		lastErr = err
	}
	return nil, &NetworkError{Attempts: maxAttempts, Err: lastErr}
}

func (c *Client) fetchOnce(ctx context.Context, body []byte) (Set, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Api-Key", c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		var detail struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&detail)
		return nil, &APIKeyError{Status: resp.StatusCode, Detail: detail.Message}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("keychain service status %d", resp.StatusCode)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode keychain response: %w", err)
	}

	set := make(Set, 0, len(wire.Keychains))
	for i, entry := range wire.Keychains {
		key, err := base64.StdEncoding.DecodeString(entry.Key)
		if err != nil {
			common.Logf("keychain %d: bad key encoding: %v", i, err)
			continue
		}
		iv, err := base64.StdEncoding.DecodeString(entry.IV)
		if err != nil {
			common.Logf("keychain %d: bad iv encoding: %v", i, err)
			continue
		}
		k, err := New(entry.Start, entry.End, key, iv)
		if err != nil {
			common.Logf("keychain %d unusable: %v", i, err)
			continue
		}
		set = append(set, k)
	}
	if len(set) == 0 {
		return nil, ErrEmptyKeychain
	}
	return set, nil
}
