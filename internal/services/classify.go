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

// ClassifyService runs the classification stage. It is triggered by a record
// change notification and advances the record from "ocr-complete" to
// "classified".
type ClassifyService struct {
	store      store.RecordStore
	classifier Classifier
}

// NewClassify builds the classify stage handler.
func NewClassify(st store.RecordStore, classifier Classifier) *ClassifyService {
	return &ClassifyService{store: st, classifier: classifier}
}

// Process handles one change notification. Only MODIFY events whose new
// image is in "ocr-complete" are acted on; everything else skips silently.
func (s *ClassifyService) Process(ctx context.Context, n models.ChangeNotification) error {
	if n.EventType != models.EventModify || n.NewImage == nil || n.NewImage.Status != models.StatusOCRComplete {
		return nil
	}
	documentID := n.Keys.DocumentID
	logCtx := slog.With("documentId", documentID, "stage", "classify")

	// Re-load rather than trusting the notification image; the feed is
	// at-least-once and may be stale.
	rec, err := s.store.Get(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		logCtx.Warn("Skipping change for unknown document.")
		metrics.StageTotal.WithLabelValues("classify", metrics.OutcomeSkipped).Inc()
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Status != models.StatusOCRComplete {
		logCtx.Info("Skipping; record not awaiting classification.", "status", rec.Status)
		metrics.StageTotal.WithLabelValues("classify", metrics.OutcomeSkipped).Inc()
		return nil
	}
	if rec.OCRResult == nil {
		return markFailed(ctx, s.store, "classify", documentID, models.StatusOCRComplete,
			fmt.Errorf("record in %q without OCR results", rec.Status))
	}

	classification := s.classifier.Classify(rec.OCRResult.Text)

	_, err = s.store.Update(ctx, documentID, store.Patch{
		Status:         models.StatusClassified,
		Classification: &classification,
	}, models.StatusOCRComplete)
	if errors.Is(err, store.ErrConflict) {
		logCtx.Info("Skipping; another delivery already advanced the record.")
		metrics.StageTotal.WithLabelValues("classify", metrics.OutcomeConflict).Inc()
		return nil
	}
	if err != nil {
		return err
	}

	logCtx.Info("Classification complete.", "category", classification.Category, "confidence", classification.Confidence)
	metrics.StageTotal.WithLabelValues("classify", metrics.OutcomeAdvanced).Inc()
	return nil
}
