package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/roach88/tillpos/internal/syncwire"
)

const maxResponseBody = 1 << 20

// HTTPPusher posts batches to the cloud's push endpoint with a bearer token.
//
// With a static token the pusher uses it as is. With tenant credentials it
// exchanges them for a token on first use and again whenever the cloud
// answers 401.
type HTTPPusher struct {
	baseURL string
	client  *http.Client

	tenantID string
	apiKey   string

	mu    sync.Mutex
	token string
}

// NewHTTPPusher creates a pusher for the cloud at baseURL using a fixed
// bearer token.
func NewHTTPPusher(baseURL, token string, timeout time.Duration) *HTTPPusher {
	return &HTTPPusher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		token:   token,
	}
}

// NewHTTPPusherWithKey creates a pusher that obtains its own tokens with a
// tenant's API key.
func NewHTTPPusherWithKey(baseURL, tenantID, apiKey string, timeout time.Duration) *HTTPPusher {
	p := NewHTTPPusher(baseURL, "", timeout)
	p.tenantID = tenantID
	p.apiKey = apiKey
	return p
}

// Push implements Pusher.
func (p *HTTPPusher) Push(ctx context.Context, req syncwire.PushRequest) (syncwire.PushResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return syncwire.PushResponse{}, fmt.Errorf("encode push: %w", err)
	}

	token, err := p.bearer(ctx, false)
	if err != nil {
		return syncwire.PushResponse{}, err
	}
	resp, status, err := p.post(ctx, token, body)
	if status == http.StatusUnauthorized && p.apiKey != "" {
		if token, err = p.bearer(ctx, true); err != nil {
			return syncwire.PushResponse{}, err
		}
		resp, _, err = p.post(ctx, token, body)
	}
	return resp, err
}

func (p *HTTPPusher) post(ctx context.Context, token string, body []byte) (syncwire.PushResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+syncwire.PushPath, bytes.NewReader(body))
	if err != nil {
		return syncwire.PushResponse{}, 0, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return syncwire.PushResponse{}, 0, fmt.Errorf("push: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return syncwire.PushResponse{}, resp.StatusCode, fmt.Errorf("read push response: %w", err)
	}

	var parsed syncwire.PushResponse
	decodeErr := json.Unmarshal(data, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rej := &RejectedError{StatusCode: resp.StatusCode, Code: syncwire.CodeInternal, Message: strings.TrimSpace(string(data))}
		if decodeErr == nil && parsed.Error != nil {
			rej.Code, rej.Message = parsed.Error.Code, parsed.Error.Message
		}
		return parsed, resp.StatusCode, rej
	}
	if decodeErr != nil {
		return syncwire.PushResponse{}, resp.StatusCode, fmt.Errorf("decode push response: %w", decodeErr)
	}
	return parsed, resp.StatusCode, nil
}

// bearer returns the cached token, fetching a new one when there is none or
// refresh is set and credentials are available.
func (p *HTTPPusher) bearer(ctx context.Context, refresh bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.apiKey == "" || (p.token != "" && !refresh) {
		return p.token, nil
	}

	body, err := json.Marshal(syncwire.TokenRequest{TenantID: p.tenantID, APIKey: p.apiKey})
	if err != nil {
		return "", fmt.Errorf("encode token request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+syncwire.TokenPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode != http.StatusOK {
		return "", &RejectedError{StatusCode: resp.StatusCode, Code: syncwire.CodeUnauthorized, Message: strings.TrimSpace(string(data))}
	}
	var tok syncwire.TokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	p.token = tok.Token
	return p.token, nil
}
