package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/papercomputeco/lmchat/pkg/llm"
)

// CompletionPath is the streaming chat completion endpoint, relative to the base URL.
const CompletionPath = "/assistant/chat/completion"

// APIKeyHeader carries the assistant's secret.
const APIKeyHeader = "x-api-key"

// maxErrorBody bounds how much of a failed response body is kept for logging.
const maxErrorBody = 4 << 10

// Request is everything a Transport needs to open one stream.
type Request struct {
	Target Target
	Body   llm.CompletionRequest
}

// Transport opens a completion request and exposes the response body as a
// byte stream. Implementations return a *TransportError when the connection
// fails or the backend answers with a non-success status. Cancelling ctx must
// abort the request and any pending read of the returned body.
type Transport interface {
	Open(ctx context.Context, req Request) (io.ReadCloser, error)
}

// HTTPTransport is the Transport used against a real backend.
type HTTPTransport struct {
	// BaseURL of the backend (e.g., "http://localhost:6070").
	BaseURL string

	// Client defaults to a client with no overall timeout: replies can stream
	// for minutes, so liveness is bounded by the Engine's idle timeout instead.
	Client *http.Client
}

// NewHTTPTransport returns an HTTPTransport for baseURL.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{},
	}
}

// Open POSTs the request and returns the event stream body.
func (t *HTTPTransport) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	reqBody, err := json.Marshal(req.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+CompletionPath, bytes.NewReader(reqBody))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set(APIKeyHeader, req.Target.APIKey)

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer httpResp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, &TransportError{StatusCode: httpResp.StatusCode, Body: string(body)}
	}

	return httpResp.Body, nil
}
