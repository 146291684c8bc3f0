package quartermaster

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type mockOpenAIClient struct {
	chatCalls  atomic.Int64
	imageCalls atomic.Int64

	chatRequest  openai.ChatCompletionRequest
	chatResponse openai.ChatCompletionResponse
	chatErr      error

	imageRequest  openai.ImageRequest
	imageResponse openai.ImageResponse
	imageErr      error
}

func (m *mockOpenAIClient) CreateChatCompletion(
	_ context.Context,
	request openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	m.chatCalls.Add(1)
	m.chatRequest = request
	return m.chatResponse, m.chatErr
}

func (m *mockOpenAIClient) CreateImage(
	_ context.Context,
	request openai.ImageRequest,
) (openai.ImageResponse, error) {
	m.imageCalls.Add(1)
	m.imageRequest = request
	return m.imageResponse, m.imageErr
}

func newTestOpenAI(t testing.TB, client *mockOpenAIClient) *OpenAI {
	t.Helper()
	cfg := DefaultTestConfig(t)
	return &OpenAI{
		client:         client,
		config:         cfg.OpenAI,
		logger:         slog.Default(),
		requestLimiter: rate.NewLimiter(rate.Inf, 1),
	}
}

func TestChatReply(t *testing.T) {
	client := &mockOpenAIClient{
		chatResponse: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{
					Message: openai.ChatCompletionMessage{
						Content: "hello, Alice!",
					},
				},
			},
		},
	}
	o := newTestOpenAI(t, client)

	reply, err := o.ChatReply(context.Background(), "Alice", "hi there")
	require.NoError(t, err)
	assert.Equal(t, "hello, Alice!", reply)
	assert.Equal(t, int64(1), client.chatCalls.Load())

	// the system prompt carries the persona and the caller's display name
	require.Len(t, client.chatRequest.Messages, 2)
	system := client.chatRequest.Messages[0]
	assert.Equal(t, openai.ChatMessageRoleSystem, system.Role)
	assert.Contains(t, system.Content, o.config.Persona)
	assert.Contains(t, system.Content, "answer them by Alice")

	user := client.chatRequest.Messages[1]
	assert.Equal(t, openai.ChatMessageRoleUser, user.Role)
	assert.Equal(t, "hi there", user.Content)
}

func TestChatReplyEmptyCompletion(t *testing.T) {
	client := &mockOpenAIClient{}
	o := newTestOpenAI(t, client)

	_, err := o.ChatReply(context.Background(), "Alice", "hi")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestGenerateImage(t *testing.T) {
	client := &mockOpenAIClient{
		imageResponse: openai.ImageResponse{
			Data: []openai.ImageResponseDataInner{
				{URL: "https://images.example.com/result.png"},
			},
		},
	}
	o := newTestOpenAI(t, client)

	img, err := o.GenerateImage(
		context.Background(),
		"a lighthouse at dusk",
		openai.CreateImageSize1792x1024,
		openai.CreateImageStyleNatural,
		"alice",
	)
	require.NoError(t, err)
	assert.Equal(t, "https://images.example.com/result.png", img.URL)
	assert.Equal(t, int64(1), client.imageCalls.Load())

	req := client.imageRequest
	assert.Equal(t, "a lighthouse at dusk", req.Prompt)
	assert.Equal(t, 1, req.N)
	assert.Equal(t, openai.CreateImageQualityHD, req.Quality)
	assert.Equal(t, openai.CreateImageResponseFormatURL, req.ResponseFormat)
	assert.Equal(t, openai.CreateImageSize1792x1024, req.Size)
	assert.Equal(t, openai.CreateImageStyleNatural, req.Style)
}

func TestGenerateImageBannedWord(t *testing.T) {
	client := &mockOpenAIClient{}
	o := newTestOpenAI(t, client)
	o.config.BannedWords = []string{"forbidden"}

	_, err := o.GenerateImage(
		context.Background(),
		"something forbidden here",
		string(defaultImageSize),
		string(defaultImageStyle),
		"alice",
	)
	assert.ErrorIs(t, err, ErrProhibitedPrompt)

	// no API call is made for rejected prompts
	assert.Zero(t, client.imageCalls.Load())
}

func TestGenerateImageBannedWordCaseSensitive(t *testing.T) {
	client := &mockOpenAIClient{
		imageResponse: openai.ImageResponse{
			Data: []openai.ImageResponseDataInner{
				{URL: "https://images.example.com/ok.png"},
			},
		},
	}
	o := newTestOpenAI(t, client)
	o.config.BannedWords = []string{"forbidden"}

	// matching is case-sensitive, so "Forbidden" passes
	_, err := o.GenerateImage(
		context.Background(),
		"something Forbidden here",
		string(defaultImageSize),
		string(defaultImageStyle),
		"alice",
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), client.imageCalls.Load())
}

func TestGenerateImageNoURL(t *testing.T) {
	client := &mockOpenAIClient{
		imageResponse: openai.ImageResponse{},
	}
	o := newTestOpenAI(t, client)

	_, err := o.GenerateImage(
		context.Background(),
		"a prompt",
		string(defaultImageSize),
		string(defaultImageStyle),
		"alice",
	)
	assert.ErrorIs(t, err, ErrNoImageURL)
}

func TestExpiresNote(t *testing.T) {
	img := GeneratedImage{}
	assert.Equal(
		t,
		"Note: This URL will expire in 60 minutes",
		img.ExpiresNote(),
	)
}
