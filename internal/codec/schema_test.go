package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateToolSchemaAcceptsValid(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"city": map[string]any{"type": "string"}},
		"required":   []any{"city"},
	}
	assert.NoError(t, ValidateToolSchema("get_weather", schema))
}

func TestValidateToolSchemaRejectsMalformed(t *testing.T) {
	schema := map[string]any{"type": 123}
	assert.Error(t, ValidateToolSchema("get_weather", schema))
}

func TestValidateToolSchemaAcceptsEmpty(t *testing.T) {
	assert.NoError(t, ValidateToolSchema("noop", nil))
}
