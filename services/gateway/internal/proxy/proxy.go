package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/diagnosis/staybook/pkg/httpx"
	"github.com/diagnosis/staybook/pkg/logger"
)

// maxBodySize bounds request bodies buffered for forwarding.
const maxBodySize = 1 << 20

type ServiceProxy struct {
	name    string
	baseURL string
	client  *http.Client
}

func NewServiceProxy(name, baseURL string) *ServiceProxy {
	return &ServiceProxy{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (p *ServiceProxy) ProxyRequest(ctx context.Context, method, path string, body []byte, headers http.Header) (*http.Response, error) {
	url := p.baseURL + path

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Copy headers
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	// Add request ID for tracing
	if requestID, ok := ctx.Value(logger.RequestIDKey).(string); ok && requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
	req.Header.Set("X-Gateway-Forwarded", "true")

	logger.DebugContext(ctx, "Proxying request",
		"upstream", p.name,
		"method", method,
		"path", path,
	)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", p.name, err)
	}

	return resp, nil
}

// Forward returns a handler that relays requests to the upstream with prefix
// removed from the path. The query string is kept.
func (p *ServiceProxy) Forward(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, prefix)
		if path == "" || path[0] != '/' {
			path = "/" + path
		}
		if r.URL.RawQuery != "" {
			path += "?" + r.URL.RawQuery
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			httpx.BadRequest(w, "Failed to read request body")
			return
		}
		defer r.Body.Close()

		headers := make(http.Header)
		for key, values := range r.Header {
			if shouldCopyHeader(key) {
				headers[key] = values
			}
		}

		resp, err := p.ProxyRequest(r.Context(), r.Method, path, body, headers)
		if err != nil {
			logger.ErrorContext(r.Context(), "Service proxy error", "error", err, "path", path)
			httpx.WriteError(w, http.StatusBadGateway, "Service unavailable", httpx.CodeUpstream)
			return
		}
		defer resp.Body.Close()

		// Copy response headers
		for key, values := range resp.Header {
			if !shouldCopyHeader(key) {
				continue
			}
			for _, value := range values {
				w.Header().Add(key, value)
			}
		}
		w.WriteHeader(resp.StatusCode)

		if _, err := io.Copy(w, resp.Body); err != nil {
			logger.ErrorContext(r.Context(), "Failed to copy response body", "error", err)
		}
	}
}

var hopHeaders = map[string]bool{
	"connection":          true,
	"host":                true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	// CORS is answered by the gateway itself.
	"access-control-allow-origin":      true,
	"access-control-allow-credentials": true,
}

func shouldCopyHeader(key string) bool {
	return !hopHeaders[strings.ToLower(key)]
}
