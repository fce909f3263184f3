package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                   "{\"a\":1}",
		"```json\n{\"a\":1}\n```":     "{\"a\":1}",
		"```\n[1,2]\n```":             "[1,2]",
		"```json {\"a\":1}```":        "{\"a\":1}",
		"  \n```JSON\n{\"a\":1}```\n": "{\"a\":1}",
	}
	for in, want := range cases {
		assert.Equal(t, want, StripCodeFence(in), in)
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		A int `json:"a"`
	}
	require.NoError(t, DecodeJSON("```json\n{\"a\":7}\n```", &out))
	assert.Equal(t, 7, out.A)

	err := DecodeJSON("not json at all", &out)
	require.ErrorIs(t, err, ErrMalformedJSON)

	err = DecodeJSON("   ", &out)
	require.ErrorIs(t, err, ErrMalformedJSON)
}

type capturedRequest struct {
	Model          string `json:"model"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
	Tools []struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"tools"`
}

func newChatServer(t *testing.T, captured *capturedRequest, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
}

func TestOpenAICompleteContent(t *testing.T) {
	var captured capturedRequest
	srv := newChatServer(t, &captured, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"payments\":[]}"},"finish_reason":"stop"}]}`)
	defer srv.Close()

	client := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "gpt-test"}, nil)
	resp, err := client.Complete(context.Background(), Request{
		System:   "system prompt",
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
		JSON:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"payments":[]}`, resp.Content)
	assert.Nil(t, resp.ToolCall)

	assert.Equal(t, "gpt-test", captured.Model)
	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_object", captured.ResponseFormat.Type)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "user", captured.Messages[1].Role)
}

func TestOpenAICompleteToolCall(t *testing.T) {
	var captured capturedRequest
	srv := newChatServer(t, &captured, `{"id":"c2","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"","tool_calls":[{"id":"t1","type":"function","function":{"name":"create_invoice","arguments":"{\"customerName\":\"Acme\"}"}}]},"finish_reason":"tool_calls"}]}`)
	defer srv.Close()

	client := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"}, nil)
	resp, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "vytvoř fakturu"}},
		Tools: []Tool{{
			Name:        "create_invoice",
			Description: "Create an invoice",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.ToolCall)
	assert.Equal(t, "create_invoice", resp.ToolCall.Name)
	assert.JSONEq(t, `{"customerName":"Acme"}`, resp.ToolCall.Arguments)
	require.Len(t, captured.Tools, 1)
	assert.Equal(t, "function", captured.Tools[0].Type)
	assert.Equal(t, "create_invoice", captured.Tools[0].Function.Name)
}

func TestOpenAIVisionUsesVisionModelAndImageParts(t *testing.T) {
	var captured capturedRequest
	srv := newChatServer(t, &captured, `{"choices":[{"index":0,"message":{"role":"assistant","content":"{}"}}]}`)
	defer srv.Close()

	client := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1", VisionModel: "vision-test"}, nil)
	_, err := client.Complete(context.Background(), Request{
		Vision: true,
		Messages: []Message{{
			Role:    RoleUser,
			Content: "read this receipt",
			Images:  []Image{{MIMEType: "image/png", Data: []byte{0x89, 0x50}}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "vision-test", captured.Model)
	require.Len(t, captured.Messages, 1)

	var parts []map[string]any
	require.NoError(t, json.Unmarshal(captured.Messages[0].Content, &parts))
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0]["type"])
	assert.Equal(t, "image_url", parts[1]["type"])
}

func TestOpenAINoChoices(t *testing.T) {
	var captured capturedRequest
	srv := newChatServer(t, &captured, `{"choices":[]}`)
	defer srv.Close()

	client := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"}, nil)
	_, err := client.Complete(context.Background(), Request{Messages: []Message{{Content: "x"}}})
	require.ErrorIs(t, err, ErrNoChoices)
}

func TestOpenAITimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Timeout: 50 * time.Millisecond}, nil)
	_, err := client.Complete(context.Background(), Request{Messages: []Message{{Content: "x"}}})
	require.Error(t, err)
}

func TestOpenAIWithoutKeyIsNotConfigured(t *testing.T) {
	client := NewOpenAI(OpenAIConfig{}, nil)
	_, err := client.Complete(context.Background(), Request{})
	require.ErrorIs(t, err, ErrNotConfigured)
}
