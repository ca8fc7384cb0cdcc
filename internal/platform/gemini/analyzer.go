package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"google.golang.org/genai"

	"github.com/docassist/docassist-api/internal/analysis"
	"github.com/docassist/docassist-api/internal/config"
)

// defaultMIMEType is assumed when the request does not declare one.
const defaultMIMEType = "application/pdf"

// Analyzer implements the analysis.Analyzer interface using Google's
// Gemini API. Responses use structured JSON output against a response
// schema; there is no free-text parsing path.
type Analyzer struct {
	logger *slog.Logger
	config config.LLMConfig

	// promptTemplate renders the context-aware analysis prompt.
	promptTemplate *template.Template

	// client is the Gemini API client for making requests.
	client *genai.Client

	// model is the name of the Gemini model to use.
	model string
}

// NewAnalyzer creates a Gemini-backed analyzer with the provided
// configuration.
func NewAnalyzer(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Analyzer, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", analysis.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", analysis.ErrInvalidConfig)
	}

	promptTemplate, err := template.New("analysis").Parse(analysisPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v", analysis.ErrInvalidConfig, err)
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", analysis.ErrInvalidConfig, err)
	}

	return &Analyzer{
		logger:         logger.With("component", "gemini_analyzer"),
		config:         cfg,
		promptTemplate: promptTemplate,
		client:         client,
		model:          cfg.ModelName,
	}, nil
}

// Analyze runs one document analysis call. Retrying is the pipeline's
// job: this method classifies its failure into the analysis sentinel
// errors and returns immediately.
func (a *Analyzer) Analyze(ctx context.Context, content []byte, req analysis.Request) (*analysis.Result, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: document is empty", analysis.ErrContentRejected)
	}

	prompt, err := a.createPrompt(req)
	if err != nil {
		return nil, err
	}

	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = defaultMIMEType
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(content, mimeType),
		},
		Role: genai.RoleUser,
	}}

	genConfig := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   resultSchema(),
	}

	a.logger.DebugContext(ctx, "calling Gemini API",
		"model", a.model,
		"file_name", req.FileName,
		"mime_type", mimeType,
		"content_bytes", len(content))

	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, genConfig)
	if err != nil {
		return nil, a.classifyError(ctx, err)
	}

	return a.parseResponse(ctx, resp)
}

// createPrompt renders the prompt template with the request context.
func (a *Analyzer) createPrompt(req analysis.Request) (string, error) {
	var buf bytes.Buffer
	if err := a.promptTemplate.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}

// parseResponse validates the provider response against the result schema.
func (a *Analyzer) parseResponse(ctx context.Context, resp *genai.GenerateContentResponse) (*analysis.Result, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", analysis.ErrInvalidResponse)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no content generated", analysis.ErrInvalidResponse)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return nil, fmt.Errorf("%w: blocked by safety filters", analysis.ErrContentRejected)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("%w: empty response text", analysis.ErrInvalidResponse)
	}

	var result analysis.Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("%w: failed to decode JSON response: %v", analysis.ErrInvalidResponse, err)
	}
	if result.Summary == "" {
		return nil, fmt.Errorf("%w: missing document summary", analysis.ErrInvalidResponse)
	}
	if result.ConfidenceScore < 0 || result.ConfidenceScore > 1 {
		return nil, fmt.Errorf("%w: confidence score %f out of range", analysis.ErrInvalidResponse, result.ConfidenceScore)
	}
	result.ModelUsed = a.model

	a.logger.DebugContext(ctx, "Gemini analysis parsed",
		"document_type", result.DocumentType,
		"findings", len(result.KeyFindings),
		"confidence", result.ConfidenceScore)

	return &result, nil
}

// classifyError maps a raw Gemini API error onto the analysis error
// taxonomy so the worker never has to know provider specifics.
func (a *Analyzer) classifyError(ctx context.Context, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			a.logger.WarnContext(ctx, "Gemini rate limit hit", "code", apiErr.Code)
			return fmt.Errorf("%w: %s", analysis.ErrRateLimited, apiErr.Message)
		case apiErr.Code == 401 || apiErr.Code == 403:
			return fmt.Errorf("%w: %s", analysis.ErrPermanent, apiErr.Message)
		case apiErr.Code == 400:
			return fmt.Errorf("%w: %s", analysis.ErrContentRejected, apiErr.Message)
		case apiErr.Code >= 500:
			return fmt.Errorf("%w: %s", analysis.ErrTransient, apiErr.Message)
		}
	}

	// The SDK does not surface a typed error for every failure mode;
	// fall back to the status strings the API is known to use.
	msg := err.Error()
	if strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "429") {
		a.logger.WarnContext(ctx, "Gemini rate limit hit", "error", msg)
		return fmt.Errorf("%w: %s", analysis.ErrRateLimited, msg)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", analysis.ErrTransient, err)
	}

	a.logger.ErrorContext(ctx, "Gemini API call failed", "error", err)
	return fmt.Errorf("%w: %v", analysis.ErrTransient, err)
}

// Ensure Analyzer implements analysis.Analyzer.
var _ analysis.Analyzer = (*Analyzer)(nil)
