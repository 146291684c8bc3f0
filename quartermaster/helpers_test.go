package quartermaster

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exact", truncate("exact", 5))
	assert.Equal(t, "trunc", truncate("truncated", 5))

	// counts runes, not bytes
	assert.Equal(t, "héllo", truncate("héllo wörld", 5))
}

func TestStripMentions(t *testing.T) {
	assert.Equal(t, "hello", stripMentions("<@123> hello", "123"))
	assert.Equal(t, "hello", stripMentions("<@!123> hello", "123"))
	assert.Equal(t, "hello", stripMentions("hello <@123>", "123"))
	assert.Equal(t, "", stripMentions("<@123>", "123"))
	assert.Equal(
		t,
		"<@456> hello",
		stripMentions("<@456> hello", "123"),
	)
}

func TestWithLogger(t *testing.T) {
	_, ok := ContextLogger(context.Background())
	assert.False(t, ok)

	logger := slog.Default().With("test", t.Name())
	ctx := WithLogger(context.Background(), logger)

	found, ok := ContextLogger(ctx)
	require.True(t, ok)
	assert.Same(t, logger, found)

	// nil falls back to the default logger
	ctx = WithLogger(context.Background(), nil)
	found, ok = ContextLogger(ctx)
	require.True(t, ok)
	assert.NotNil(t, found)
}

func TestStructToSlogValueRedactsSecrets(t *testing.T) {
	cfg := DefaultTestConfig(t)
	rendered := structToSlogValue(cfg).String()

	assert.NotContains(t, rendered, "discord-test-token")
	assert.NotContains(t, rendered, "openai-test-token")
	assert.NotContains(t, rendered, "classifier-test-token")
	assert.Contains(t, rendered, "[redacted]")
	assert.Contains(t, rendered, "https://gateway.example.com/v1")
}

func TestStructToSlogValueSkipsEmpty(t *testing.T) {
	type example struct {
		Name  string   `json:"name"`
		Empty string   `json:"empty"`
		Items []string `json:"items"`
	}

	rendered := structToSlogValue(
		example{Name: "value"},
	).String()
	assert.Contains(t, rendered, "name=value")
	assert.False(t, strings.Contains(rendered, "empty"))
	assert.False(t, strings.Contains(rendered, "items"))

	assert.Equal(t, slog.AnyValue(nil).String(), structToSlogValue(nil).String())
	var nilPtr *example
	assert.Equal(
		t,
		slog.AnyValue(nil).String(),
		structToSlogValue(nilPtr).String(),
	)
}
