package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = ResponseSchema{
	Name:   "test",
	Schema: map[string]interface{}{"type": "object"},
}

func TestCompleteJSONSendsSchemaAndReturnsContent(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		_, _ = w.Write([]byte(`{"choices":[{"finish_reason":"stop","message":{"content":" {\"events\":[]} "}}]}`))
	}))
	defer server.Close()

	client := NewOpenAICompatibleClient(time.Second)
	out, err := client.CompleteJSON(context.Background(), ChatConfig{
		BaseURL: server.URL + "/v1/",
		APIKey:  "sk-test",
		Model:   "m",
	}, []ChatMessage{{Role: "user", Content: "hi"}}, testSchema)

	require.NoError(t, err)
	assert.Equal(t, `{"events":[]}`, out)
	assert.Equal(t, false, captured["stream"])
	format := captured["response_format"].(map[string]interface{})
	assert.Equal(t, "json_schema", format["type"])
	jsonSchema := format["json_schema"].(map[string]interface{})
	assert.Equal(t, "test", jsonSchema["name"])
	assert.Equal(t, true, jsonSchema["strict"])
}

func TestCompleteJSONClassifiesFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantKind  ProviderErrorKind
		retryable bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":"slow down"}`, wantKind: KindRateLimit, retryable: true},
		{name: "server error", status: http.StatusBadGateway, body: `oops`, wantKind: KindStatus, retryable: true},
		{name: "bad request", status: http.StatusBadRequest, body: `bad`, wantKind: KindStatus, retryable: false},
		{name: "gateway timeout", status: http.StatusGatewayTimeout, body: ``, wantKind: KindTimeout, retryable: true},
		{name: "empty choices", status: http.StatusOK, body: `{"choices":[]}`, wantKind: KindDecode},
		{name: "truncated", status: http.StatusOK, body: `{"choices":[{"finish_reason":"length","message":{"content":"{"}}]}`, wantKind: KindDecode},
		{name: "refusal", status: http.StatusOK, body: `{"choices":[{"message":{"refusal":"no"}}]}`, wantKind: KindRefusal},
		{name: "not json", status: http.StatusOK, body: `<html>`, wantKind: KindDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewOpenAICompatibleClient(time.Second)
			_, err := client.CompleteJSON(context.Background(), ChatConfig{BaseURL: server.URL, Model: "m"}, nil, testSchema)

			var perr *ProviderError
			require.True(t, errors.As(err, &perr), "expected ProviderError, got %v", err)
			assert.Equal(t, tt.wantKind, perr.Kind)
			assert.Equal(t, tt.retryable, perr.Retryable())
		})
	}
}

func TestCompleteJSONTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewOpenAICompatibleClient(20 * time.Millisecond)
	_, err := client.CompleteJSON(context.Background(), ChatConfig{BaseURL: server.URL}, nil, testSchema)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindTimeout, perr.Kind)
}

func TestChatMessageMarshalWithImages(t *testing.T) {
	raw, err := json.Marshal(ChatMessage{Role: "user", Content: "describe", ImageURLs: []string{"data:image/png;base64,AAAA"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":[{"type":"text","text":"describe"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}}]}`, string(raw))

	raw, err = json.Marshal(ChatMessage{Role: "system", Content: "plain"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"system","content":"plain"}`, string(raw))
}
