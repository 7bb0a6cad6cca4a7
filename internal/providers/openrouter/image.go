package openrouter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tkendall99/bedtime-solved/internal/infra"
	"github.com/tkendall99/bedtime-solved/internal/providers"
)

// ImageClient generates images through OpenRouter chat completions with the
// image output modality. The reference image travels as a data URI.
type ImageClient struct {
	apiKey     string
	baseURL    string
	model      string
	referer    string
	title      string
	httpClient *http.Client
	retry      providers.RetryPolicy
	logger     zerolog.Logger
}

func NewImageClient(opts Options) (*ImageClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openrouter: api key is required")
	}
	model := opts.Model
	if model == "" {
		model = DefaultImageModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &ImageClient{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    opts.baseURL(),
		model:      model,
		referer:    opts.Referer,
		title:      opts.Title,
		httpClient: client,
		retry:      opts.Retry,
		logger:     infra.LoggerOrNop(opts.Logger),
	}, nil
}

func (c *ImageClient) Model() string { return c.model }

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type imageChatRequest struct {
	Model      string        `json:"model"`
	Messages   []chatMessage `json:"messages"`
	Modalities []string      `json:"modalities"`
}

type imageChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Images  []struct {
				Type     string   `json:"type"`
				ImageURL imageURL `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (c *ImageClient) GenerateImage(ctx context.Context, req providers.ImageRequest) (providers.Image, error) {
	var parts []contentPart
	if len(req.Reference) > 0 {
		mime := req.ReferenceMIME
		if mime == "" {
			mime = http.DetectContentType(req.Reference)
		}
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Reference)},
		})
	}
	parts = append(parts, contentPart{Type: "text", Text: req.Prompt})

	body, err := json.Marshal(imageChatRequest{
		Model:      c.model,
		Messages:   []chatMessage{{Role: "user", Content: parts}},
		Modalities: []string{"image", "text"},
	})
	if err != nil {
		return providers.Image{}, fmt.Errorf("marshal request: %w", err)
	}

	return providers.Do(ctx, c.retry, c.logger, "image", func(ctx context.Context) (providers.Image, error) {
		var out imageChatResponse
		if err := c.invoke(ctx, body, &out); err != nil {
			return providers.Image{}, err
		}
		if len(out.Choices) == 0 || len(out.Choices[0].Message.Images) == 0 {
			return providers.Image{}, &providers.Error{Provider: providerName, Op: "image", Message: "no image in response", Err: providers.ErrNoImage}
		}
		img, err := c.decodeImage(ctx, out.Choices[0].Message.Images[0].ImageURL.URL)
		if err != nil {
			return providers.Image{}, err
		}
		c.logger.Debug().Str("model", c.model).Int("bytes", len(img.Data)).Msg("image generated")
		return img, nil
	})
}

func (c *ImageClient) invoke(ctx context.Context, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke openrouter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(data))
		var apiErr apiErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return &providers.Error{
			Provider:   providerName,
			Op:         "image",
			StatusCode: resp.StatusCode,
			Retryable:  providers.RetryableStatus(resp.StatusCode),
			Message:    msg,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A truncated body is usually a dropped connection.
		return &providers.Error{Provider: providerName, Op: "image", Message: "decode response", Retryable: true, Err: err}
	}
	return nil
}

// decodeImage accepts a base64 data URI or, for models that return hosted
// files, an http(s) URL.
func (c *ImageClient) decodeImage(ctx context.Context, raw string) (providers.Image, error) {
	if strings.HasPrefix(raw, "data:") {
		mime, data, err := parseDataURI(raw)
		if err != nil {
			return providers.Image{}, &providers.Error{Provider: providerName, Op: "image", Message: "invalid image data uri", Err: err}
		}
		return providers.Image{Data: data, MIMEType: mime}, nil
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return c.download(ctx, raw)
	}
	return providers.Image{}, &providers.Error{Provider: providerName, Op: "image", Message: "unsupported image url", Err: providers.ErrNoImage}
}

func (c *ImageClient) download(ctx context.Context, url string) (providers.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return providers.Image{}, fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return providers.Image{}, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return providers.Image{}, &providers.Error{
			Provider:   providerName,
			Op:         "download",
			StatusCode: resp.StatusCode,
			Retryable:  providers.RetryableStatus(resp.StatusCode),
			Message:    "image download failed",
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return providers.Image{}, fmt.Errorf("read image: %w", err)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return providers.Image{Data: data, MIMEType: mime}, nil
}

func parseDataURI(uri string) (string, []byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return "", nil, errors.New("missing data separator")
	}
	if !strings.HasSuffix(header, ";base64") {
		return "", nil, errors.New("data uri is not base64")
	}
	mime := strings.TrimSuffix(header, ";base64")
	if mime == "" {
		mime = "image/png"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode base64: %w", err)
	}
	if len(data) == 0 {
		return "", nil, errors.New("empty image payload")
	}
	return mime, data, nil
}

var _ providers.ImageGenerator = (*ImageClient)(nil)
