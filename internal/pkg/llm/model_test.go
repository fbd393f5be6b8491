package llm

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weibaohui/pleroma/backend/config"
)

func TestNewChatModelRequiresAPIKey(t *testing.T) {
	_, err := NewChatModel(context.Background(), config.LLMConfig{Model: "gpt-4o-mini"})
	assert.Error(t, err)
}

func TestChatModelGenerate(t *testing.T) {
	inner := NewScriptedModel(schema.AssistantMessage("hello", nil))
	m := Wrap(inner, "fake")

	resp, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Len(t, inner.Calls(), 1)
}

func TestChatModelGenerateError(t *testing.T) {
	inner := NewScriptedModel().FailWith(0, errors.New("rate limited"))
	_, err := Wrap(inner, "fake").Generate(context.Background(), nil)
	assert.EqualError(t, err, "rate limited")
}

func TestChatModelWithToolsKeepsWrapper(t *testing.T) {
	inner := NewScriptedModel(schema.AssistantMessage("ok", nil))
	bound, err := Wrap(inner, "fake").WithTools([]*schema.ToolInfo{{Name: "regenerate_lesson"}})
	require.NoError(t, err)

	_, isWrapper := bound.(*ChatModel)
	assert.True(t, isWrapper)
	assert.Len(t, inner.Tools(), 1)
}

func TestChatModelStream(t *testing.T) {
	inner := NewScriptedModel(schema.AssistantMessage("streamed text", nil))
	reader, err := Wrap(inner, "fake").Stream(context.Background(), nil)
	require.NoError(t, err)
	defer reader.Close()

	var got string
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got += chunk.Content
	}
	assert.Equal(t, "streamed text", got)
}
