package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/metrics"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/store"
)

// ExtractService runs the OCR stage. It is triggered by an object-store
// notification for a newly stored document and advances the record from
// "uploaded" to "ocr-complete".
type ExtractService struct {
	store store.RecordStore
	ocr   OCREngine
}

// NewExtract builds the extract stage handler.
func NewExtract(st store.RecordStore, ocr OCREngine) *ExtractService {
	return &ExtractService{store: st, ocr: ocr}
}

// Process handles one object-store notification. Duplicate or replayed
// notifications are absorbed by the precondition check and the conditional
// write; both skip silently.
func (s *ExtractService) Process(ctx context.Context, e models.StorageEvent) error {
	documentID, err := e.DocumentID()
	if err != nil {
		return fmt.Errorf("malformed storage event: %w", err)
	}
	logCtx := slog.With("documentId", documentID, "stage", "extract")

	rec, err := s.store.Get(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		// An object landed without an ingest record. Nothing to advance.
		logCtx.Warn("Skipping object with no document record.", "key", e.Name)
		metrics.StageTotal.WithLabelValues("extract", metrics.OutcomeSkipped).Inc()
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Status != models.StatusUploaded {
		logCtx.Info("Skipping; record not awaiting extraction.", "status", rec.Status)
		metrics.StageTotal.WithLabelValues("extract", metrics.OutcomeSkipped).Inc()
		return nil
	}

	result, err := s.ocr.AnalyzeDocument(ctx, e.Bucket, e.Name)
	if err != nil {
		return markFailed(ctx, s.store, "extract", documentID, models.StatusUploaded, err)
	}

	_, err = s.store.Update(ctx, documentID, store.Patch{
		Status:    models.StatusOCRComplete,
		OCRResult: result,
	}, models.StatusUploaded)
	if errors.Is(err, store.ErrConflict) {
		logCtx.Info("Skipping; another delivery already advanced the record.")
		metrics.StageTotal.WithLabelValues("extract", metrics.OutcomeConflict).Inc()
		return nil
	}
	if err != nil {
		return err
	}

	logCtx.Info("OCR extraction complete.", "textBytes", len(result.Text), "keyValuePairs", len(result.KeyValuePairs))
	metrics.StageTotal.WithLabelValues("extract", metrics.OutcomeAdvanced).Inc()
	return nil
}
