package ops

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reflow-sh/reflow/pkg/schema"
)

func TestHTTPOperationValidate(t *testing.T) {
	op := NewHTTPOperation()

	require.NoError(t, op.Validate(map[string]any{"url": "https://example.com"}))
	require.NoError(t, op.Validate(map[string]any{"url": "https://example.com", "method": "post"}))

	require.Error(t, op.Validate(map[string]any{}))
	require.Error(t, op.Validate(map[string]any{"url": "ftp://example.com"}))
	require.Error(t, op.Validate(map[string]any{"url": "https://example.com", "method": "TRACE"}))
}

func TestHTTPOperationExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		require.Equal(t, "yes", r.Header.Get("X-Custom"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(body, &decoded))
		require.Equal(t, "ping", decoded["msg"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"pong":true}`))
	}))
	defer srv.Close()

	out, err := NewHTTPOperation().Execute(context.Background(), OperationInput{
		Params: map[string]any{
			"url":     srv.URL,
			"method":  "POST",
			"body":    map[string]any{"msg": "ping"},
			"headers": map[string]any{"X-Custom": "yes"},
		},
		Credentials: map[schema.CredentialType]string{schema.CredHTTPBearer: "tok-123"},
	})
	require.NoError(t, err)

	data := out.Data.(map[string]any)
	require.Equal(t, http.StatusCreated, data["status_code"])
	body := data["body"].(map[string]any)
	require.Equal(t, true, body["pong"])
}

func TestHTTPOperationNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	out, err := NewHTTPOperation().Execute(context.Background(), OperationInput{
		Params: map[string]any{"url": srv.URL},
	})
	require.NoError(t, err)
	data := out.Data.(map[string]any)
	require.Equal(t, "plain text", data["body"])
}
