// Package provider speaks the chat-completions wire format of the generation API.
package provider

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/alt-text-gen/pkg/fetch"
	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

// ChatInput is one single-turn request: a system prompt and a user prompt with an optional image
type ChatInput struct {
	APIKey      string
	BaseURL     string
	Model       string
	System      string
	Prompt      string
	ImageURL    string // https URL or data URI; empty sends a text-only request
	Temperature float32
	MaxTokens   int
	JSONMode    bool
}

// ChatOutput is the first choice's content and the reported usage
type ChatOutput struct {
	Content string
	Model   string
	Usage   models.Usage
}

// ChatAPI is implemented by Client and by test fakes
type ChatAPI interface {
	Chat(ctx context.Context, in ChatInput, maxRetries int) (*ChatOutput, error)
}

// Client sends chat completions through the rate-limit-aware executor
type Client struct {
	exec *fetch.Executor
	log  *logrus.Entry
}

// NewClient creates a Client
func NewClient(exec *fetch.Executor, log *logrus.Entry) *Client {
	return &Client{exec: exec, log: log.WithField("component", "provider")}
}

// Chat performs one chat completion
func (c *Client) Chat(ctx context.Context, in ChatInput, maxRetries int) (*ChatOutput, error) {
	if strings.TrimSpace(in.APIKey) == "" {
		return nil, utils.NewGenError(utils.KindMissingCredential, "no API key configured")
	}

	body, err := json.Marshal(BuildRequest(in))
	if err != nil {
		return nil, utils.NewGenError(utils.KindAPIError, "encoding request: %v", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+in.APIKey)
	header.Set("Content-Type", "application/json")

	resp, err := c.exec.Execute(ctx, fetch.Request{
		Method: http.MethodPost,
		URL:    strings.TrimRight(in.BaseURL, "/") + "/chat/completions",
		Header: header,
		Body:   body,
	}, maxRetries)
	if err != nil {
		return nil, err
	}
	return ParseResponse(resp.Body)
}

// BuildRequest converts ChatInput into the wire request. Images are sent at low detail.
func BuildRequest(in ChatInput) openai.ChatCompletionRequest {
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if in.ImageURL != "" {
		user.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: in.Prompt},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    in.ImageURL,
					Detail: openai.ImageURLDetailLow,
				},
			},
		}
	} else {
		user.Content = in.Prompt
	}

	req := openai.ChatCompletionRequest{
		Model: in.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: in.System},
			user,
		},
		Temperature: wireTemperature(in.Temperature),
		MaxTokens:   in.MaxTokens,
	}
	if in.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return req
}

// wireTemperature keeps an explicit zero on the wire; go-openai omits a zero Temperature
func wireTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

// ParseResponse extracts choices[0].message.content and usage
func ParseResponse(body []byte) (*ChatOutput, error) {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, utils.NewGenError(utils.KindAPIError, "malformed completion response: %v", err)
	}
	if len(resp.Choices) == 0 {
		return nil, utils.NewGenError(utils.KindAPIError, "completion response has no choices")
	}
	return &ChatOutput{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
