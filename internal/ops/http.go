package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/reflow-sh/reflow/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPOperation backs the HttpBubble flow operation: one outbound HTTP
// request per action call.
type HTTPOperation struct {
	client          *http.Client
	maxResponseBody int64
}

// NewHTTPOperation creates the stock HTTP operation.
func NewHTTPOperation() *HTTPOperation {
	return &HTTPOperation{
		client:          &http.Client{Timeout: defaultHTTPTimeout},
		maxResponseBody: defaultMaxResponseBody,
	}
}

func (h *HTTPOperation) Name() string          { return "HttpBubble" }
func (h *HTTPOperation) Kind() schema.NodeKind { return schema.NodeKindService }

// Validate checks the declared parameter contract before execution.
func (h *HTTPOperation) Validate(params map[string]any) error {
	rawURL := stringParam(params, "url", "")
	if rawURL == "" {
		return schema.NewError(schema.ErrCodeValidation, "url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid url %q", rawURL)
	}
	method := strings.ToUpper(stringParam(params, "method", "GET"))
	switch method {
	case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD":
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unsupported method %q", method)
	}
	return nil
}

func (h *HTTPOperation) Execute(ctx context.Context, input OperationInput) (*OperationOutput, error) {
	if err := h.Validate(input.Params); err != nil {
		return nil, err
	}

	method := strings.ToUpper(stringParam(input.Params, "method", "GET"))
	rawURL := stringParam(input.Params, "url", "")

	var body io.Reader
	if b, ok := input.Params["body"]; ok && b != nil {
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "encode request body").WithCause(err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "build request").WithCause(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := input.Params["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}
	if token, ok := input.Credentials[schema.CredHTTPBearer]; ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "request failed: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, h.maxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "read response body").WithCause(err)
	}

	var parsed any
	if json.Unmarshal(raw, &parsed) != nil {
		parsed = string(raw)
	}

	return &OperationOutput{Data: map[string]any{
		"status_code": resp.StatusCode,
		"status":      resp.Status,
		"body":        parsed,
	}}, nil
}

// --- param helpers shared by operation files ---

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

var _ Operation = (*HTTPOperation)(nil)
