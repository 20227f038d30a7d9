package analyze

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedy-agent/src/contracts"
)

type fakeChat struct {
	content string
	err     error
	last    openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.last = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: f.content}},
		},
	}, nil
}

func TestLLMAnalyzer_Analyze(t *testing.T) {
	chat := &fakeChat{content: "Here you go:\n" + `{
  "error_patterns": [
    {"pattern": "ERROR: test com.acme.FooTest failed at line 42", "context": "ctx", "type": "test_failure"},
    {"pattern": "ERROR: test com.acme.FooTest failed at line 57", "context": "dup", "type": "test_failure"},
    {"pattern": "Could not resolve dependencies for project app", "context": ""}
  ],
  "differences": [{"type": "parameters", "description": "env changed"}],
  "recommendations": ["Retry the build"],
  "severity": "high",
  "confidence": 1.7
}`}
	log := "ERROR: test failed\n"
	build := &contracts.BuildInfo{
		JobName:     "build-x",
		BuildNumber: 42,
		Result:      contracts.ResultFailure,
		Parameters:  map[string]string{"env": "staging"},
		ConsoleLog:  &log,
	}
	success := &contracts.BuildInfo{JobName: "build-x", BuildNumber: 41, Parameters: map[string]string{"env": "prod"}}

	a := NewLLMAnalyzerWithClient(chat, "")
	result, err := a.Analyze(context.Background(), build, success)
	require.NoError(t, err)

	assert.Equal(t, openai.GPT4oMini, chat.last.Model)
	require.NotNil(t, chat.last.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, chat.last.ResponseFormat.Type)
	prompt := chat.last.Messages[1].Content
	assert.Contains(t, prompt, "Build: build-x #42")
	assert.Contains(t, prompt, "env: prod -> staging")

	require.Len(t, result.ErrorPatterns, 2, "numbers are masked so the two test lines share a key")
	assert.Equal(t, "ERROR: test com.acme.FooTest failed at line [NUM]", result.ErrorPatterns[0].Pattern)
	assert.Equal(t, contracts.ErrorTypeDependencyIssue, result.ErrorPatterns[1].Type)
	assert.Equal(t, contracts.SeverityHigh, result.Severity)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, []string{"Retry the build"}, result.Recommendations)
	assert.Same(t, success, result.LastSuccess)
}

func TestLLMAnalyzer_Errors(t *testing.T) {
	build := &contracts.BuildInfo{JobName: "app", BuildNumber: 1, Result: contracts.ResultFailure}

	t.Run("transport", func(t *testing.T) {
		a := NewLLMAnalyzerWithClient(&fakeChat{err: errors.New("connection refused")}, "gpt-4o")
		_, err := a.Analyze(context.Background(), build, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("not json", func(t *testing.T) {
		a := NewLLMAnalyzerWithClient(&fakeChat{content: "I could not analyze this build."}, "gpt-4o")
		_, err := a.Analyze(context.Background(), build, nil)
		require.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		a := NewLLMAnalyzerWithClient(&fakeChat{content: `{"severity": "catastrophic"}`}, "gpt-4o")
		result, err := a.Analyze(context.Background(), build, nil)
		require.NoError(t, err)
		assert.Equal(t, contracts.SeverityLow, result.Severity)
		assert.Equal(t, 0.5, result.Confidence)
		assert.Empty(t, result.ErrorPatterns)
	})
}

func TestTail(t *testing.T) {
	s := strings.Repeat("a", 10) + "\n" + strings.Repeat("b", 10)
	assert.Equal(t, s, tail(s, 100))
	assert.Equal(t, strings.Repeat("b", 10), tail(s, 15))
}
