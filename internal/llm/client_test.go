package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAIClientDefaults(t *testing.T) {
	client := NewOpenAIClient()
	assert.Empty(t, client.model)
	assert.Nil(t, client.temperature)
}

func TestNewOpenAIClientWithAllOptions(t *testing.T) {
	client := NewOpenAIClient(
		WithBaseURL("https://api.example.com/v1"),
		WithAPIKey("sk-test"),
		WithModel("gpt-4o-mini"),
		WithTemperature(0.5),
	)
	assert.Equal(t, "gpt-4o-mini", client.model)
	require.NotNil(t, client.temperature)
	assert.Equal(t, 0.5, *client.temperature)
}

func TestApplyDefaults(t *testing.T) {
	client := NewOpenAIClient(WithModel("tester"), WithTemperature(0.8))

	req := client.applyDefaults(NewChatRequest("sys", "hello"))
	assert.Equal(t, "tester", req.Model)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.8, *req.Temperature)

	req = client.applyDefaults(ChatRequest{Model: "judge", Temperature: Float64Ptr(0)})
	assert.Equal(t, "judge", req.Model)
	assert.Equal(t, 0.0, *req.Temperature)
}

func TestNewChatRequest(t *testing.T) {
	req := NewChatRequest("be terse", "hi")
	require.Len(t, req.Messages, 2)
	assert.Equal(t, RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "be terse", req.SystemMessage())
	assert.Equal(t, "hi", req.UserMessage())

	followUp := NewChatRequest("", "next")
	require.Len(t, followUp.Messages, 1)
	assert.Equal(t, RoleUser, followUp.Messages[0].Role)
	assert.Empty(t, followUp.SystemMessage())
}

func TestToOpenAIRequest(t *testing.T) {
	out := toOpenAIRequest(ChatRequest{
		Model:       "m",
		Messages:    []Message{{Role: RoleSystem, Content: "s"}, {Role: RoleUser, Content: "u"}},
		Temperature: Float64Ptr(0.25),
	})
	assert.Equal(t, "m", out.Model)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "u", out.Messages[1].Content)
	assert.InDelta(t, 0.25, out.Temperature, 0.0001)
}

func TestValidateOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr error
	}{
		{"hosted without key", nil, ErrMissingAPIKey},
		{"hosted with key", []Option{WithAPIKey("sk")}, nil},
		{"self-hosted without key", []Option{WithBaseURL("http://vllm.llm.svc.cluster.local/v1")}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOptions(tt.opts...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}

	assert.Error(t, ValidateOptions(WithBaseURL("not a url")))
}
