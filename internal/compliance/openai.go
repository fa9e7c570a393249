package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultAnalysisModel = "gpt-4o-mini"
	analysisPreviewChars = 2000
)

// ChatCompleter is the subset of the OpenAI client the analyzer uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIAnalyzer evaluates ai_analysis rules with a chat model.
type OpenAIAnalyzer struct {
	client ChatCompleter
	model  string
	logger *slog.Logger
}

// NewOpenAIAnalyzer builds an analyzer from an API key.
func NewOpenAIAnalyzer(apiKey, model string, logger *slog.Logger) *OpenAIAnalyzer {
	return NewOpenAIAnalyzerWithClient(openai.NewClient(apiKey), model, logger)
}

// NewOpenAIAnalyzerWithClient builds an analyzer around an existing client.
func NewOpenAIAnalyzerWithClient(client ChatCompleter, model string, logger *slog.Logger) *OpenAIAnalyzer {
	if model == "" {
		model = defaultAnalysisModel
	}
	return &OpenAIAnalyzer{client: client, model: model, logger: logger}
}

// Analyze asks the model whether the text meets the requirement.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResult, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: 0.3,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a compliance expert. Analyze documents and return structured JSON compliance results.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildAnalysisPrompt(req),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("openai call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return AnalysisResult{}, errors.New("empty response from model")
	}
	content := resp.Choices[0].Message.Content

	var result AnalysisResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		extracted, ok := extractJSONObject(content)
		if !ok || json.Unmarshal([]byte(extracted), &result) != nil {
			a.log().Warn("unparseable analysis response", slog.String("content", truncate(content, 200)))
			return AnalysisResult{}, fmt.Errorf("parse analysis response: %w", err)
		}
	}
	if result.Score < 0 {
		result.Score = 0
	}
	if result.Score > 1 {
		result.Score = 1
	}
	return result, nil
}

func (a *OpenAIAnalyzer) log() *slog.Logger {
	if a.logger != nil {
		return a.logger.With(slog.String("component", "compliance_ai"))
	}
	return slog.Default().With(slog.String("component", "compliance_ai"))
}

func buildAnalysisPrompt(req AnalysisRequest) string {
	preview := truncate(req.Text, analysisPreviewChars)
	if len(req.Text) > analysisPreviewChars {
		preview += "..."
	}
	return fmt.Sprintf(`Analyze this document text for compliance with the following requirement:

Requirement: %s

Document text (preview): %s

Return JSON with:
- compliant: boolean
- score: number (0-1)
- evidence: array of strings (evidence found)
- gaps: array of strings (what's missing)

Return only valid JSON, no markdown.`, req.Requirement, preview)
}

// extractJSONObject returns the first balanced {...} block in content.
func extractJSONObject(content string) (string, bool) {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(content); i++ {
		c := content[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return content[start : i+1], true
			}
		}
	}
	return "", false
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
