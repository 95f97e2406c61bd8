// Package services implements the four pipeline stage handlers (Ingest,
// Extract, Classify, Summarize), the rule-based classification engine, and
// the read-only query service. Each handler follows the same contract:
// resolve the document from its trigger, skip silently unless the record is
// in the stage's precondition status, call its single external collaborator,
// and attempt exactly one conditional write guarded by that same status.
package services

import (
	"context"
	"time"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
)

// ObjectStore is the handle-issuing side of binary storage. The pipeline
// never streams document content itself; uploads go directly to the store
// through time-limited signed URLs.
type ObjectStore interface {
	SignedUploadURL(key, contentType string, ttl time.Duration) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// OCREngine extracts text lines and key/value pairs from a stored document.
type OCREngine interface {
	AnalyzeDocument(ctx context.Context, bucket, key string) (*models.OCRResult, error)
}

// Summarizer produces a natural-language summary of extracted content.
type Summarizer interface {
	Summarize(ctx context.Context, category string, ocr *models.OCRResult) (string, error)
}

// Classifier maps extracted text to a category with a confidence score. It
// is deterministic policy: every input yields exactly one classification.
type Classifier interface {
	Classify(text string) models.Classification
}
