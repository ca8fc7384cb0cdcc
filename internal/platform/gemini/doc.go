// Package gemini implements the analysis.Analyzer interface using
// Google's Gemini API with structured JSON output.
package gemini
