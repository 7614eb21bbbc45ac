package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnpike-ai/turnpike/core"
	"github.com/turnpike-ai/turnpike/provider"
)

func TestBuildParamsDefaults(t *testing.T) {
	a := New(func(o *Options) {
		o.Model = "gpt-4o"
		o.MaxTokens = 1024
	})

	params := a.buildParams(provider.ChatRequest{
		Messages: []core.Message{core.NewMessage(core.RoleUser, core.TextContent("hi"))},
	})
	assert.Equal(t, "gpt-4o", string(params.Model))
	assert.Equal(t, int64(1024), params.MaxCompletionTokens.Value)

	params = a.buildParams(provider.ChatRequest{
		Model:     "gpt-4.1",
		MaxTokens: 64,
	})
	assert.Equal(t, "gpt-4.1", string(params.Model))
	assert.Equal(t, int64(64), params.MaxCompletionTokens.Value)
}

func TestBuildParamsDropsTemperatureForReasoningModels(t *testing.T) {
	a := New()
	temp := 0.7

	params := a.buildParams(provider.ChatRequest{Model: "gpt-4o", Temperature: &temp})
	assert.True(t, params.Temperature.Valid())

	params = a.buildParams(provider.ChatRequest{Model: "o3-mini", Temperature: &temp})
	assert.False(t, params.Temperature.Valid())
}

func TestBuildParamsTools(t *testing.T) {
	a := New()

	params := a.buildParams(provider.ChatRequest{
		Tools: []core.ToolDefinition{{
			Name:        "email_send",
			Description: "Send an email",
			Parameters:  map[string]any{"type": "object"},
		}},
		ToolChoice: core.ToolChoiceRequired,
	})
	require.Len(t, params.Tools, 1)
	assert.Equal(t, "email_send", params.Tools[0].Function.Name)
	require.True(t, params.ToolChoice.OfAuto.Valid())
	assert.Equal(t, "required", params.ToolChoice.OfAuto.Value)
}

func TestBuildMessagesRoles(t *testing.T) {
	assistant := core.NewMessage(core.RoleAssistant, core.Content{})
	assistant.ToolCalls = []core.ToolCall{{ID: "call-1", Name: "lookup", Arguments: `{"q":"x"}`}}

	toolResult := core.NewMessage(core.RoleTool, core.TextContent(`{"ok":true}`))
	toolResult.ToolCallID = "call-1"

	out := buildMessages([]core.Message{
		core.NewMessage(core.RoleSystem, core.TextContent("be terse")),
		core.NewMessage(core.RoleUser, core.TextContent("look x up")),
		assistant,
		toolResult,
	})
	require.Len(t, out, 4)
	require.NotNil(t, out[0].OfSystem)
	require.NotNil(t, out[1].OfUser)
	require.NotNil(t, out[2].OfAssistant)
	require.Len(t, out[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "call-1", out[2].OfAssistant.ToolCalls[0].ID)
	require.NotNil(t, out[3].OfTool)
	assert.Equal(t, "call-1", out[3].OfTool.ToolCallID)
}

func TestSupportsTemperature(t *testing.T) {
	assert.True(t, supportsTemperature("gpt-4o-mini"))
	assert.False(t, supportsTemperature("o1-preview"))
	assert.False(t, supportsTemperature("o4-mini"))
}

func TestInfo(t *testing.T) {
	a := New(func(o *Options) { o.Model = "gpt-4o" })
	info := a.Info()
	assert.Equal(t, provider.NameOpenAI, info.Provider)
	assert.Equal(t, "gpt-4o", info.Model)
	assert.True(t, info.SupportsEmbeddings)
}
