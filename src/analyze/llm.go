package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"remedy-agent/src/contracts"
	"remedy-agent/src/patterns"
	"remedy-agent/src/sanitize"
)

// MaxPromptLogBytes bounds how much of each console log is sent to the model.
// The tail of the log is kept since failures are reported last.
const MaxPromptLogBytes = 24000

const systemPrompt = "You are a Jenkins build analysis expert. Answer with a single JSON object and nothing else."

// ChatClient is the subset of the OpenAI client used by LLMAnalyzer.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMAnalyzer asks an OpenAI-compatible chat model for a structured analysis.
type LLMAnalyzer struct {
	client ChatClient
	model  string
	now    func() time.Time
}

// NewLLMAnalyzer builds an analyzer against the OpenAI API, or any compatible
// gateway when baseURL is set.
func NewLLMAnalyzer(apiKey, baseURL, model string) *LLMAnalyzer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewLLMAnalyzerWithClient(openai.NewClientWithConfig(cfg), model)
}

// NewLLMAnalyzerWithClient wires a custom chat client.
func NewLLMAnalyzerWithClient(client ChatClient, model string) *LLMAnalyzer {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &LLMAnalyzer{client: client, model: model, now: time.Now}
}

// llmAnalysis is the JSON shape the model is asked to produce.
type llmAnalysis struct {
	ErrorPatterns []struct {
		Pattern string `json:"pattern"`
		Context string `json:"context"`
		Type    string `json:"type"`
	} `json:"error_patterns"`
	Differences     []contracts.Difference `json:"differences"`
	Recommendations []string               `json:"recommendations"`
	Severity        string                 `json:"severity"`
	Confidence      *float64               `json:"confidence"`
}

// Analyze implements provider.Analyzer.
func (a *LLMAnalyzer) Analyze(ctx context.Context, build *contracts.BuildInfo, lastSuccess *contracts.BuildInfo) (*contracts.AnalysisResult, error) {
	if build == nil {
		return nil, fmt.Errorf("analyze: nil build")
	}

	req := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(build, lastSuccess)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	parsed, err := parseLLMResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	result := &contracts.AnalysisResult{
		BuildInfo:       *build,
		LastSuccess:     lastSuccess,
		Differences:     parsed.Differences,
		Recommendations: parsed.Recommendations,
		Severity:        contracts.SeverityLow,
		Confidence:      0.5,
		Timestamp:       a.now(),
	}
	if sev := contracts.Severity(strings.ToUpper(strings.TrimSpace(parsed.Severity))); sev.Rank() > 0 {
		result.Severity = sev
	}
	if parsed.Confidence != nil {
		result.Confidence = clamp01(*parsed.Confidence)
	}

	seen := make(map[string]bool)
	for _, ep := range parsed.ErrorPatterns {
		// Keys are normalized so the same failure matches across builds.
		key := patterns.Key(ep.Pattern)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		errorType := ep.Type
		if errorType == "" {
			errorType = classify(ep.Pattern)
		}
		result.ErrorPatterns = append(result.ErrorPatterns, contracts.ErrorPattern{
			Pattern: key,
			Context: ep.Context,
			Type:    errorType,
		})
	}

	return result, nil
}

// parseLLMResponse extracts the outermost JSON object from the completion.
func parseLLMResponse(content string) (*llmAnalysis, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model response")
	}
	var parsed llmAnalysis
	if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("parse model response: %w", err)
	}
	return &parsed, nil
}

func buildPrompt(build *contracts.BuildInfo, lastSuccess *contracts.BuildInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Jenkins Build Details:\nBuild: %s #%d\nResult: %s\n", build.JobName, build.BuildNumber, build.Result)
	if len(build.Parameters) > 0 {
		fmt.Fprintf(&b, "Parameters: %s\n", formatParams(build.Parameters))
	}
	fmt.Fprintf(&b, "\nBuild Console Log (tail):\n%s\n\n", tail(sanitize.Clean(build.Log()), MaxPromptLogBytes))

	if lastSuccess != nil {
		fmt.Fprintf(&b, "Last Successful Build #%d Console Log (tail) for comparison:\n%s\n\n",
			lastSuccess.BuildNumber, tail(sanitize.Clean(lastSuccess.Log()), MaxPromptLogBytes/2))
		fmt.Fprintf(&b, "Parameter changes since that build: %s\n\n",
			contracts.DiffParams(build.Parameters, lastSuccess.Parameters).String())
	}

	b.WriteString(`Analyze this build:
1. Identify the main error patterns and their context
2. Note key differences from the successful build
3. Determine likely root causes
4. Provide specific recommendations for fixing the issue
5. Assign a severity level and confidence score

Respond with a JSON object with these fields:
{
  "error_patterns": [{"pattern": "the error line", "context": "surrounding lines", "type": "test_failure|dependency_issue|compilation_error|timeout|out_of_memory|unknown"}],
  "differences": [{"type": "change type", "description": "what changed"}],
  "recommendations": ["specific action"],
  "severity": "HIGH|MEDIUM|LOW",
  "confidence": 0.0
}`)
	return b.String()
}

func formatParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + params[k]
	}
	return strings.Join(parts, ", ")
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[len(s)-n:]
	if idx := strings.IndexByte(cut, '\n'); idx >= 0 && idx < len(cut)-1 {
		cut = cut[idx+1:]
	}
	return cut
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
