package gemini

import "google.golang.org/genai"

// analysisPromptTemplate frames the document for the model. The context
// blocks are opaque strings supplied by the host; empty blocks render as
// nothing.
const analysisPromptTemplate = `You are a clinical document analysis assistant supporting a licensed physician.
Analyze the attached medical document and respond with structured JSON only.

Document: {{.FileName}}
{{- if .PatientContext}}

Patient context:
{{.PatientContext}}
{{- end}}
{{- if .VisitContext}}

Visit context:
{{.VisitContext}}
{{- end}}
{{- if .DoctorContext}}

Requesting physician:
{{.DoctorContext}}
{{- end}}

Identify the document type, summarize the findings, explain their clinical
significance for this patient, list discrete key findings with severity, and
suggest actionable follow-ups. Rate your confidence between 0 and 1.`

// resultSchema declares the structured output contract enforced on every
// Gemini response. It mirrors analysis.Result field for field.
func resultSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"document_type": {
				Type:        genai.TypeString,
				Description: "Type of medical document (CBC, LFT, X-Ray, MRI, CT Scan, Urinalysis, etc.)",
			},
			"summary": {
				Type:        genai.TypeString,
				Description: "Comprehensive summary of the document findings.",
			},
			"clinical_significance": {
				Type:        genai.TypeString,
				Description: "What the findings mean for the patient's presentation.",
			},
			"key_findings": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"description": {
							Type:        genai.TypeString,
							Description: "The finding itself.",
						},
						"severity": {
							Type: genai.TypeString,
							Enum: []string{"normal", "borderline", "abnormal", "critical"},
						},
					},
					Required: []string{"description", "severity"},
				},
			},
			"actionable_insights": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			"confidence_score": {
				Type:        genai.TypeNumber,
				Description: "Model confidence in the analysis, between 0 and 1.",
			},
		},
		Required: []string{"document_type", "summary", "key_findings", "confidence_score"},
	}
}
