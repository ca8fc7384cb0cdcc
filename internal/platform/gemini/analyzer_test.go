package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"text/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/docassist/docassist-api/internal/analysis"
	"github.com/docassist/docassist-api/internal/config"
)

// newBareAnalyzer builds an analyzer without an API client, enough for
// the parsing and classification paths.
func newBareAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	tmpl, err := template.New("analysis").Parse(analysisPromptTemplate)
	require.NoError(t, err)
	return &Analyzer{
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		promptTemplate: tmpl,
		model:          "gemini-2.0-flash",
	}
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Parts: []*genai.Part{{Text: text}},
			},
		}},
	}
}

func TestNewAnalyzerValidation(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	_, err := NewAnalyzer(ctx, nil, config.LLMConfig{GeminiAPIKey: "k", ModelName: "m"})
	assert.Error(t, err)

	_, err = NewAnalyzer(ctx, logger, config.LLMConfig{ModelName: "m"})
	assert.ErrorIs(t, err, analysis.ErrInvalidConfig)

	_, err = NewAnalyzer(ctx, logger, config.LLMConfig{GeminiAPIKey: "k"})
	assert.ErrorIs(t, err, analysis.ErrInvalidConfig)
}

func TestCreatePrompt(t *testing.T) {
	t.Parallel()

	a := newBareAnalyzer(t)

	prompt, err := a.createPrompt(analysis.Request{
		FileName:       "cbc-panel.pdf",
		PatientContext: "54yo, hypertension",
		VisitContext:   "annual physical",
	})
	require.NoError(t, err)

	assert.Contains(t, prompt, "cbc-panel.pdf")
	assert.Contains(t, prompt, "54yo, hypertension")
	assert.Contains(t, prompt, "annual physical")
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	a := newBareAnalyzer(t)
	ctx := context.Background()

	t.Run("valid structured output", func(t *testing.T) {
		t.Parallel()
		resp := textResponse(`{
			"document_type": "lab_results",
			"summary": "CBC within normal limits",
			"clinical_significance": "routine",
			"key_findings": [{"description": "WBC 6.2", "severity": "normal"}],
			"actionable_insights": ["no follow-up needed"],
			"confidence_score": 0.92
		}`)

		result, err := a.parseResponse(ctx, resp)
		require.NoError(t, err)
		assert.Equal(t, "lab_results", result.DocumentType)
		assert.Equal(t, "CBC within normal limits", result.Summary)
		require.Len(t, result.KeyFindings, 1)
		assert.Equal(t, "WBC 6.2", result.KeyFindings[0].Description)
		assert.InDelta(t, 0.92, result.ConfidenceScore, 1e-9)
		assert.Equal(t, a.model, result.ModelUsed)
	})

	t.Run("nil response", func(t *testing.T) {
		t.Parallel()
		_, err := a.parseResponse(ctx, nil)
		assert.ErrorIs(t, err, analysis.ErrInvalidResponse)
	})

	t.Run("no candidates", func(t *testing.T) {
		t.Parallel()
		_, err := a.parseResponse(ctx, &genai.GenerateContentResponse{})
		assert.ErrorIs(t, err, analysis.ErrInvalidResponse)
	})

	t.Run("safety block is a content rejection", func(t *testing.T) {
		t.Parallel()
		resp := textResponse("ignored")
		resp.Candidates[0].FinishReason = genai.FinishReasonSafety

		_, err := a.parseResponse(ctx, resp)
		assert.ErrorIs(t, err, analysis.ErrContentRejected)
	})

	t.Run("empty text", func(t *testing.T) {
		t.Parallel()
		_, err := a.parseResponse(ctx, textResponse(""))
		assert.ErrorIs(t, err, analysis.ErrInvalidResponse)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		t.Parallel()
		_, err := a.parseResponse(ctx, textResponse("this is not json"))
		assert.ErrorIs(t, err, analysis.ErrInvalidResponse)
	})

	t.Run("missing summary", func(t *testing.T) {
		t.Parallel()
		_, err := a.parseResponse(ctx, textResponse(`{"document_type": "note", "confidence_score": 0.5}`))
		assert.ErrorIs(t, err, analysis.ErrInvalidResponse)
	})

	t.Run("confidence out of range", func(t *testing.T) {
		t.Parallel()
		_, err := a.parseResponse(ctx, textResponse(`{"summary": "ok", "confidence_score": 1.5}`))
		assert.ErrorIs(t, err, analysis.ErrInvalidResponse)
	})
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	a := newBareAnalyzer(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   error
		want error
	}{
		{"429 is rate limited", genai.APIError{Code: 429, Message: "quota"}, analysis.ErrRateLimited},
		{"401 is permanent", genai.APIError{Code: 401, Message: "bad key"}, analysis.ErrPermanent},
		{"403 is permanent", genai.APIError{Code: 403, Message: "forbidden"}, analysis.ErrPermanent},
		{"400 is content rejection", genai.APIError{Code: 400, Message: "bad input"}, analysis.ErrContentRejected},
		{"500 is transient", genai.APIError{Code: 500, Message: "internal"}, analysis.ErrTransient},
		{"503 is transient", genai.APIError{Code: 503, Message: "overloaded"}, analysis.ErrTransient},
		{"RESOURCE_EXHAUSTED string is rate limited", errors.New("rpc error: RESOURCE_EXHAUSTED"), analysis.ErrRateLimited},
		{"deadline is transient", context.DeadlineExceeded, analysis.ErrTransient},
		{"unknown is transient", errors.New("wire format surprise"), analysis.ErrTransient},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := a.classifyError(ctx, tc.in)
			assert.ErrorIs(t, got, tc.want)
		})
	}
}

func TestAnalyzeRejectsEmptyContent(t *testing.T) {
	t.Parallel()

	a := newBareAnalyzer(t)
	_, err := a.Analyze(context.Background(), nil, analysis.Request{})
	assert.ErrorIs(t, err, analysis.ErrContentRejected)
}

func TestResultSchemaMatchesResultShape(t *testing.T) {
	t.Parallel()

	schema := resultSchema()
	require.Equal(t, genai.TypeObject, schema.Type)

	for _, field := range []string{
		"document_type", "summary", "clinical_significance",
		"key_findings", "actionable_insights", "confidence_score",
	} {
		assert.Contains(t, schema.Properties, field)
	}
	assert.Contains(t, schema.Required, "summary")
}
