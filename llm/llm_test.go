package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agnivade/voiceagent/config"
)

func TestNew_NoKeyIsDisabled(t *testing.T) {
	g, err := New(context.Background(), config.LLMConfig{Model: "gemini-2.5-flash"})
	require.NoError(t, err)
	assert.IsType(t, Disabled{}, g)

	reply, err := g.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestNew_WithKey(t *testing.T) {
	g, err := New(context.Background(), config.LLMConfig{APIKey: "test-key", Model: "gemini-2.5-flash"})
	require.NoError(t, err)

	gem, ok := g.(*Gemini)
	require.True(t, ok)
	assert.Equal(t, "gemini-2.5-flash", gem.model)
}
