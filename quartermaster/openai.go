package quartermaster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

var (
	// ErrProhibitedPrompt indicates an /imagine prompt matched the
	// banned-word list. No API call is made.
	ErrProhibitedPrompt = errors.New("prompt contains a banned word")

	// ErrEmptyCompletion indicates the gateway returned no choices
	ErrEmptyCompletion = errors.New("no completion returned")

	// ErrNoImageURL indicates the gateway response had no image URL
	ErrNoImageURL = errors.New("no image URL returned")
)

// imageURLLifespan is how long generated image URLs remain valid. This is
// a property of the upstream service, only surfaced to the user in the
// reply footer - nothing is enforced locally.
const imageURLLifespan = 60 * time.Minute

// OpenAIClient defines the subset of the OpenAI client used by the bot,
// to enable testing/mocking. [openai.Client] implements it.
type OpenAIClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
	CreateImage(
		ctx context.Context,
		request openai.ImageRequest,
	) (openai.ImageResponse, error)
}

// OpenAI proxies chat-completion and image-generation requests through
// the configured gateway. Outgoing requests share a rate limiter.
type OpenAI struct {
	client         OpenAIClient
	config         *OpenAIConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter
}

func newOpenAI(config *OpenAIConfig, httpClient *http.Client) *OpenAI {
	o := &OpenAI{
		config: config,
		requestLimiter: rate.NewLimiter(
			rate.Limit(config.MaxRequestsPerSecond),
			1,
		),
	}
	o.logger = slog.New(newTintHandler(config.LogLevel)).With(
		loggerNameKey, "openai",
	)

	clientCfg := openai.DefaultConfig(config.Token)
	if config.GatewayURL != "" {
		clientCfg.BaseURL = config.GatewayURL
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	o.client = openai.NewClientWithConfig(clientCfg)

	return o
}

// ChatReply sends a two-message conversation to the chat-completion
// endpoint: the configured persona (personalized with the caller's display
// name), and the user's message. Returns the top completion's content.
func (o *OpenAI) ChatReply(
	ctx context.Context,
	displayName string,
	message string,
) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultOpenAIRequestTimeout)
		defer cancel()
	}
	if err := o.requestLimiter.Wait(ctx); err != nil {
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model: o.config.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf(
					"%swhen you answer someone, answer them by %s",
					o.config.Persona,
					displayName,
				),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: message,
			},
		},
	}

	started := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		o.logger.ErrorContext(
			ctx,
			"error creating chat completion",
			tint.Err(err),
			"elapsed", time.Since(started),
		)
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	o.logger.InfoContext(
		ctx,
		"chat completion finished",
		"model", resp.Model,
		"elapsed", time.Since(started),
	)
	return resp.Choices[0].Message.Content, nil
}

// GeneratedImage is the result of a successful /imagine request
type GeneratedImage struct {
	URL     string
	Elapsed time.Duration
}

// ExpiresNote documents the upstream URL lifespan for the reply footer
func (GeneratedImage) ExpiresNote() string {
	return fmt.Sprintf(
		"Note: This URL will expire in %d minutes",
		int(imageURLLifespan.Minutes()),
	)
}

// GenerateImage requests a single image in the given size and style.
// Prompts containing a banned word are rejected with
// [ErrProhibitedPrompt] before any API call is made.
func (o *OpenAI) GenerateImage(
	ctx context.Context,
	prompt string,
	size string,
	style string,
	requesterName string,
) (*GeneratedImage, error) {
	if word, banned := o.bannedWord(prompt); banned {
		o.logger.InfoContext(
			ctx,
			"rejected image prompt",
			"banned_word", word,
			"requester", requesterName,
		)
		return nil, ErrProhibitedPrompt
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultOpenAIRequestTimeout)
		defer cancel()
	}
	if err := o.requestLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	started := time.Now()
	resp, err := o.client.CreateImage(
		ctx, openai.ImageRequest{
			Prompt:         prompt,
			Model:          o.config.ImageModel,
			N:              1,
			Quality:        openai.CreateImageQualityHD,
			ResponseFormat: openai.CreateImageResponseFormatURL,
			Size:           size,
			Style:          style,
			User:           requesterName,
		},
	)
	elapsed := time.Since(started)
	if err != nil {
		o.logger.ErrorContext(
			ctx,
			"error generating image",
			tint.Err(err),
			"elapsed", elapsed,
		)
		return nil, err
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		o.logger.ErrorContext(ctx, "image response missing URL")
		return nil, ErrNoImageURL
	}
	o.logger.InfoContext(
		ctx,
		"image generated",
		"requester", requesterName,
		"prompt", prompt,
		"elapsed", elapsed,
	)
	return &GeneratedImage{URL: resp.Data[0].URL, Elapsed: elapsed}, nil
}

// bannedWord returns the first banned word found in the prompt.
// Case-sensitive substring match.
func (o *OpenAI) bannedWord(prompt string) (string, bool) {
	for _, word := range o.config.BannedWords {
		if strings.Contains(prompt, word) {
			return word, true
		}
	}
	return "", false
}
