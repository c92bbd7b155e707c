package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"resty.dev/v3"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// Config configures Client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Size        string
	Timeout     time.Duration
	MaxAttempts uint
	// RetryDelay is the base of the exponential backoff.
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Client calls an OpenAI-compatible /images/generations endpoint.
type Client struct {
	httpClient  *resty.Client
	model       string
	size        string
	maxAttempts uint
	retryDelay  time.Duration
	log         *zap.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	return &Client{
		httpClient:  client,
		model:       cfg.Model,
		size:        cfg.Size,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		log:         cfg.Logger,
	}
}

func (client *Client) Close() error {
	return client.httpClient.Close()
}

type GenerationRequest struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format"`
}

type GenerationResponse struct {
	Created int64       `json:"created"`
	Data    []ImageData `json:"data"`
}

type ImageData struct {
	B64JSON       string `json:"b64_json"`
	URL           string `json:"url"`
	RevisedPrompt string `json:"revised_prompt"`
}

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("response error %d: %s", e.Code, e.Body)
}

// isRetryableError reports whether another attempt may succeed.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == 429
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "EOF")
}

// Generate implements Generator.
func (client *Client) Generate(ctx context.Context, prompt string) (Candidate, error) {
	if strings.TrimSpace(prompt) == "" {
		return Candidate{}, ErrEmptyPrompt
	}

	var result Candidate
	attempt := 0
	if err := retry.Do(
		func() error {
			attempt++
			candidate, err := client.generate(ctx, prompt)
			if err != nil {
				if !isRetryableError(err) {
					return retry.Unrecoverable(err)
				}
				client.log.Warn("Image generation attempt failed",
					zap.Int("attempt", attempt),
					zap.Error(err))
				return err
			}
			result = candidate
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(client.maxAttempts),
		retry.Delay(client.retryDelay),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			return retry.BackOffDelay(n, err, config)
		}),
	); err != nil {
		return Candidate{}, fmt.Errorf("generate image: %w", err)
	}
	return result, nil
}

func (client *Client) generate(ctx context.Context, prompt string) (Candidate, error) {
	requestBody := GenerationRequest{
		Model:          client.model,
		Prompt:         prompt,
		N:              1,
		Size:           client.size,
		ResponseFormat: "b64_json",
	}

	response, err := client.httpClient.R().
		SetContext(ctx).
		SetBody(requestBody).
		SetResult(&GenerationResponse{}).
		Post("/images/generations")
	if err != nil {
		return Candidate{}, fmt.Errorf("httpClient.Post > %w", err)
	}
	if response.IsError() {
		return Candidate{}, &StatusError{Code: response.StatusCode(), Body: response.String()}
	}

	responseBody, _ := response.Result().(*GenerationResponse)
	if responseBody == nil || len(responseBody.Data) == 0 {
		return Candidate{}, ErrNoImage
	}

	data := responseBody.Data[0]
	if data.B64JSON == "" {
		return Candidate{}, fmt.Errorf("%w (url only: %q)", ErrNoImage, data.URL)
	}
	blob, err := base64.StdEncoding.DecodeString(data.B64JSON)
	if err != nil {
		return Candidate{}, fmt.Errorf("decode b64_json: %w", err)
	}

	client.log.Debug("Image generated",
		zap.Int("bytes", len(blob)),
		zap.String("model", client.model))
	return Candidate{
		Bytes:         blob,
		MIME:          mimetype.Detect(blob).String(),
		SourceURL:     data.URL,
		RevisedPrompt: data.RevisedPrompt,
	}, nil
}

// Compile-time interface check
var _ Generator = (*Client)(nil)
