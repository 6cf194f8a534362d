package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnvString(t *testing.T) {
	os.Setenv("TEST_API_KEY", "secret-key-123")
	os.Setenv("TEST_PATH", "/path/to/data")
	defer os.Unsetenv("TEST_API_KEY")
	defer os.Unsetenv("TEST_PATH")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"expand ${VAR} syntax", "${TEST_API_KEY}", "secret-key-123"},
		{"expand $VAR syntax", "$TEST_API_KEY", "secret-key-123"},
		{"expand in middle of string", "key:${TEST_API_KEY}:end", "key:secret-key-123:end"},
		{"expand multiple variables", "${TEST_API_KEY}:${TEST_PATH}", "secret-key-123:/path/to/data"},
		{"leave non-existent var unchanged", "${NONEXISTENT_VAR}", "${NONEXISTENT_VAR}"},
		{"handle empty string", "", ""},
		{"handle string without variables", "plain-text", "plain-text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvString(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("BACKEND_TOKEN", "bearer-test-123")
	defer os.Unsetenv("BACKEND_TOKEN")

	cfg := Config{
		Backend: BackendConfig{BearerToken: "${BACKEND_TOKEN}"},
		Reporters: []ReporterConfig{
			{Kind: "platform", Credentials: "${BACKEND_TOKEN}"},
		},
	}

	expanded := expandEnvVars(cfg)

	assert.Equal(t, "bearer-test-123", expanded.Backend.BearerToken)
	assert.Equal(t, "bearer-test-123", expanded.Reporters[0].Credentials)
}

func TestValidateSchemaRejectsUnknownReporterKind(t *testing.T) {
	err := validateSchema(map[string]interface{}{
		"reporters": []interface{}{
			map[string]interface{}{"kind": "smoke-signal"},
		},
	})
	assert.Error(t, err)
}

func TestValidateSchemaAcceptsValidDocument(t *testing.T) {
	err := validateSchema(map[string]interface{}{
		"appChannel": "production",
		"reporters": []interface{}{
			map[string]interface{}{"kind": "backend"},
			map[string]interface{}{"kind": "platform"},
		},
		"repositories": []interface{}{
			map[string]interface{}{"slug": "org/repo", "checkoutMode": "robust"},
		},
	})
	assert.NoError(t, err)
}
