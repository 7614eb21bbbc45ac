package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) *FuncTool {
	return NewFuncTool(
		name,
		"echoes its input",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry(echoTool("echo"))

	err := reg.Register(echoTool("echo"))
	assert.Error(t, err)

	require.NoError(t, reg.Register(echoTool("echo_two")))
	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "echo", defs[0].Name)
	assert.Equal(t, "echo_two", defs[1].Name)
}

func TestFuncToolValidatesRequiredArguments(t *testing.T) {
	tl := echoTool("echo")

	_, err := tl.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
	var toolErr *Err
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)

	out, err := tl.Execute(context.Background(), map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

type sendEmailArgs struct {
	Recipient string `json:"recipient" jsonschema:"required"`
	Subject   string `json:"subject"`
}

func TestStructToolDerivesSchema(t *testing.T) {
	tl, err := NewStructTool[sendEmailArgs](
		"email_send",
		"Send an email",
		func(_ context.Context, args map[string]any) (any, error) {
			return "sent", nil
		},
	)
	require.NoError(t, err)

	def := tl.Definition()
	assert.Equal(t, "email_send", def.Name)
	props, ok := def.Parameters["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "recipient")
	assert.Contains(t, props, "subject")
	assert.NotContains(t, def.Parameters, "$schema")
}

func TestRequiredFieldsHandlesDecodedJSON(t *testing.T) {
	def := echoTool("echo").Definition()
	assert.Equal(t, []string{"text"}, RequiredFields(def))

	// Schemas decoded from JSON carry []any, not []string.
	def.Parameters["required"] = []any{"text", 42, "other"}
	assert.Equal(t, []string{"text", "other"}, RequiredFields(def))
}

func TestPropertyType(t *testing.T) {
	def := echoTool("echo").Definition()
	assert.Equal(t, "string", PropertyType(def, "text"))
	assert.Empty(t, PropertyType(def, "missing"))
}
