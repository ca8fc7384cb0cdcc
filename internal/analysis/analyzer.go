package analysis

import (
	"context"
)

// Request carries the document and its surrounding clinical context to the
// AI provider. The context strings are opaque to this package; the host
// application decides what goes into the prompt.
type Request struct {
	// FileName is the original name of the document, used for prompt
	// framing and MIME sniffing fallbacks.
	FileName string

	// MIMEType is the declared content type of the document.
	MIMEType string

	// PatientContext, VisitContext and DoctorContext are free-form context
	// blocks rendered into the analysis prompt.
	PatientContext string
	VisitContext   string
	DoctorContext  string
}

// Finding is a single discrete observation extracted from a document.
type Finding struct {
	// Description is the finding itself.
	Description string `json:"description"`

	// Severity is one of "normal", "borderline", "abnormal", "critical".
	Severity string `json:"severity"`
}

// Result is the schema-validated outcome of a document analysis. The
// provider returns structured JSON; there is no free-text parsing path.
type Result struct {
	// DocumentType identifies the kind of medical document (CBC, X-Ray...).
	DocumentType string `json:"document_type"`

	// Summary is a prose summary of the document findings.
	Summary string `json:"summary"`

	// ClinicalSignificance explains what the findings mean for the
	// patient's presentation.
	ClinicalSignificance string `json:"clinical_significance"`

	// KeyFindings lists the discrete findings extracted from the document.
	KeyFindings []Finding `json:"key_findings"`

	// ActionableInsights suggests follow-up actions for the clinician.
	ActionableInsights []string `json:"actionable_insights"`

	// ConfidenceScore is the model's self-reported confidence in [0, 1].
	ConfidenceScore float64 `json:"confidence_score"`

	// ModelUsed records which model produced the result.
	ModelUsed string `json:"-"`
}

// Analyzer is the boundary between the pipeline and the external AI
// service. Implementations classify their failures into the sentinel
// errors defined in errors.go so the worker can match them exhaustively.
type Analyzer interface {
	// Analyze runs a document analysis and returns the structured result.
	// The returned error, when non-nil, wraps exactly one of
	// ErrRateLimited, ErrTransient, ErrContentRejected or ErrPermanent.
	Analyze(ctx context.Context, content []byte, req Request) (*Result, error)
}

// ContentFetcher retrieves document bytes for a content reference. This is
// a designated suspension point: implementations may block on slow I/O.
type ContentFetcher interface {
	// Fetch resolves a content reference to raw document bytes. It returns
	// ErrContentNotFound if the reference does not resolve, or an error
	// wrapping ErrTransient for retryable I/O failures.
	Fetch(ctx context.Context, contentRef string) ([]byte, error)
}
