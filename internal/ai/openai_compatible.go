package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChatMessage is one prompt message. ImageURLs (http or data: URLs) turn the
// message into multi-part content for vision-capable models.
type ChatMessage struct {
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	ImageURLs []string `json:"-"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

func (m ChatMessage) MarshalJSON() ([]byte, error) {
	if len(m.ImageURLs) == 0 {
		return json.Marshal(struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{m.Role, m.Content})
	}
	parts := make([]contentPart, 0, len(m.ImageURLs)+1)
	parts = append(parts, contentPart{Type: "text", Text: m.Content})
	for _, u := range m.ImageURLs {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: u}})
	}
	return json.Marshal(struct {
		Role    string        `json:"role"`
		Content []contentPart `json:"content"`
	}{m.Role, parts})
}

type ChatConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// ResponseSchema is a JSON schema the provider must constrain its output to.
type ResponseSchema struct {
	Name   string
	Schema map[string]interface{}
}

type OpenAICompatibleClient struct {
	httpClient *http.Client
}

func NewOpenAICompatibleClient(timeout time.Duration) *OpenAICompatibleClient {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &OpenAICompatibleClient{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CompleteJSON issues one non-streaming, schema-constrained chat completion and
// returns the raw JSON text of the first choice. It does not validate the
// content against the schema; callers own that decision.
func (c *OpenAICompatibleClient) CompleteJSON(
	ctx context.Context,
	cfg ChatConfig,
	messages []ChatMessage,
	schema ResponseSchema,
) (string, error) {
	reqBody := map[string]interface{}{
		"model":       cfg.Model,
		"messages":    messages,
		"stream":      false,
		"temperature": 0,
		"response_format": map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name":   schema.Name,
				"strict": true,
				"schema": schema.Schema,
			},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal llm request failed: %w", err)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("build llm request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransportError(err)
	}
	if resp.StatusCode >= 300 {
		return "", classifyStatus(resp.StatusCode, string(raw))
	}

	var parsed struct {
		Choices []struct {
			FinishReason string `json:"finish_reason"`
			Message      struct {
				Content string `json:"content"`
				Refusal string `json:"refusal"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &ProviderError{Kind: KindDecode, Message: "parse llm json failed", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return "", &ProviderError{Kind: KindDecode, Message: "empty llm choices"}
	}
	choice := parsed.Choices[0]
	if choice.Message.Refusal != "" {
		return "", &ProviderError{Kind: KindRefusal, Message: choice.Message.Refusal}
	}
	if choice.FinishReason == "length" {
		return "", &ProviderError{Kind: KindDecode, Message: "llm output truncated"}
	}
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return "", &ProviderError{Kind: KindDecode, Message: "empty llm content"}
	}
	return content, nil
}
