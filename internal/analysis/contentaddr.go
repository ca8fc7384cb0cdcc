package analysis

import (
	"crypto/sha256"
	"encoding/hex"
)

// OpDocumentAnalysis is the operation kind for whole-document analysis.
// It participates in content addressing so future operation kinds over the
// same bytes do not collide.
const OpDocumentAnalysis = "document_analysis"

// ContentAddress derives the dedupe cache key for an operation over the
// given document bytes. Identical content analyzed under the same
// operation always maps to the same key, which is what makes repeated
// submissions idempotent.
func ContentAddress(operation string, content []byte) string {
	h := sha256.New()
	h.Write([]byte(operation))
	h.Write([]byte{0})
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
