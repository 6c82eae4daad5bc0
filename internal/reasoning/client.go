package reasoning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrUnavailable wraps any transport or provider failure. Callers treat it
// as "no verdict was reached", which is different from a reply with zero
// tool calls (a deliberate no-op verdict).
var ErrUnavailable = errors.New("reasoning service unavailable")

// Response is one model turn.
type Response struct {
	Content   string
	ToolCalls []llms.ToolCall
}

// Client is the reasoning surface the pipeline talks to. One call, one
// verdict; requests are never retried because a duplicated verdict can mean
// a duplicated intervention.
type Client interface {
	Run(ctx context.Context, messages []llms.MessageContent, tools []llms.Tool) (*Response, error)
}

// Options configures the OpenAI-compatible client.
type Options struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// LLMClient implements Client over langchaingo's OpenAI-compatible API,
// which also covers self-hosted gateways via BaseURL.
type LLMClient struct {
	llm         llms.Model
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// NewLLMClient builds the production reasoning client.
func NewLLMClient(opts Options) (*LLMClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("reasoning API key is required")
	}
	if opts.Model == "" {
		return nil, errors.New("reasoning model is required")
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.4
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1500
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	clientOpts := []openai.Option{
		openai.WithModel(opts.Model),
		openai.WithToken(opts.APIKey),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(opts.BaseURL))
	}
	llm, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create reasoning client: %w", err)
	}

	return &LLMClient{
		llm:         llm,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		timeout:     opts.Timeout,
	}, nil
}

func (c *LLMClient) Run(ctx context.Context, messages []llms.MessageContent, tools []llms.Tool) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	callOptions := []llms.CallOption{
		llms.WithTemperature(c.temperature),
		llms.WithMaxTokens(c.maxTokens),
	}
	if len(tools) > 0 {
		callOptions = append(callOptions, llms.WithTools(tools))
	}

	start := time.Now()
	resp, err := c.llm.GenerateContent(ctx, messages, callOptions...)
	if err != nil {
		log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("reasoning call failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrUnavailable)
	}

	choice := resp.Choices[0]
	log.Debug().Dur("elapsed", time.Since(start)).
		Int("tool_calls", len(choice.ToolCalls)).
		Msg("reasoning call completed")
	return &Response{Content: choice.Content, ToolCalls: choice.ToolCalls}, nil
}
