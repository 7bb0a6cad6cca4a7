package openrouter

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/rs/zerolog"

	"github.com/tkendall99/bedtime-solved/internal/infra"
	"github.com/tkendall99/bedtime-solved/internal/providers"
)

const (
	DefaultBaseURL    = "https://openrouter.ai/api/v1"
	DefaultTextModel  = "xiaomi/mimo-v2-flash:free"
	DefaultImageModel = "bytedance-seed/seedream-4.5"

	providerName = "openrouter"
)

// Options configures both OpenRouter clients.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Referer    string
	Title      string
	Retry      providers.RetryPolicy
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

func (o Options) baseURL() string {
	if u := strings.TrimRight(strings.TrimSpace(o.BaseURL), "/"); u != "" {
		return u
	}
	return DefaultBaseURL
}

// TextClient generates JSON text through OpenRouter's OpenAI-compatible API.
type TextClient struct {
	client openai.Client
	model  string
	retry  providers.RetryPolicy
	logger zerolog.Logger
}

func NewTextClient(opts Options) (*TextClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openrouter: api key is required")
	}
	model := opts.Model
	if model == "" {
		model = DefaultTextModel
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(opts.APIKey)),
		option.WithBaseURL(opts.baseURL() + "/"),
		option.WithHTTPClient(httpClient),
		// Retries are owned by the shared policy so text and image calls behave alike.
		option.WithMaxRetries(0),
	}
	if opts.Referer != "" {
		reqOpts = append(reqOpts, option.WithHeader("HTTP-Referer", opts.Referer))
	}
	if opts.Title != "" {
		reqOpts = append(reqOpts, option.WithHeader("X-Title", opts.Title))
	}

	return &TextClient{
		client: openai.NewClient(reqOpts...),
		model:  model,
		retry:  opts.Retry,
		logger: infra.LoggerOrNop(opts.Logger),
	}, nil
}

func (c *TextClient) Model() string { return c.model }

// GenerateText asks for a JSON object and returns the message content as is.
func (c *TextClient) GenerateText(ctx context.Context, req providers.TextRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	return providers.Do(ctx, c.retry, c.logger, "chat", func(ctx context.Context) (string, error) {
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", mapOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return "", &providers.Error{Provider: providerName, Op: "chat", Message: "response contained no choices", Retryable: true}
		}
		content := strings.TrimSpace(resp.Choices[0].Message.Content)
		if content == "" {
			return "", &providers.Error{Provider: providerName, Op: "chat", Message: "response content was empty", Retryable: true}
		}
		c.logger.Debug().
			Str("model", c.model).
			Int64("prompt_tokens", resp.Usage.PromptTokens).
			Int64("completion_tokens", resp.Usage.CompletionTokens).
			Msg("text generated")
		return content, nil
	})
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return &providers.Error{
			Provider:   providerName,
			Op:         "chat",
			StatusCode: apiErr.StatusCode,
			Retryable:  providers.RetryableStatus(apiErr.StatusCode),
			Message:    msg,
			Err:        err,
		}
	}
	return err
}

var _ providers.TextGenerator = (*TextClient)(nil)
