package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/metrics"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/store"
)

// SummarizeService runs the final stage. It is triggered by a record change
// notification and advances the record from "classified" to the terminal
// "completed" state, recording the summary and completion timestamp.
type SummarizeService struct {
	store      store.RecordStore
	summarizer Summarizer
}

// NewSummarize builds the summarize stage handler.
func NewSummarize(st store.RecordStore, summarizer Summarizer) *SummarizeService {
	return &SummarizeService{store: st, summarizer: summarizer}
}

// Process handles one change notification. Only MODIFY events whose new
// image is in "classified" are acted on.
func (s *SummarizeService) Process(ctx context.Context, n models.ChangeNotification) error {
	if n.EventType != models.EventModify || n.NewImage == nil || n.NewImage.Status != models.StatusClassified {
		return nil
	}
	documentID := n.Keys.DocumentID
	logCtx := slog.With("documentId", documentID, "stage", "summarize")

	rec, err := s.store.Get(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		logCtx.Warn("Skipping change for unknown document.")
		metrics.StageTotal.WithLabelValues("summarize", metrics.OutcomeSkipped).Inc()
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Status != models.StatusClassified {
		logCtx.Info("Skipping; record not awaiting summarization.", "status", rec.Status)
		metrics.StageTotal.WithLabelValues("summarize", metrics.OutcomeSkipped).Inc()
		return nil
	}
	if rec.OCRResult == nil || rec.Classification == nil {
		return markFailed(ctx, s.store, "summarize", documentID, models.StatusClassified,
			fmt.Errorf("record in %q missing upstream stage outputs", rec.Status))
	}

	summary, err := s.summarizer.Summarize(ctx, rec.Classification.Category, rec.OCRResult)
	if err != nil {
		return markFailed(ctx, s.store, "summarize", documentID, models.StatusClassified, err)
	}

	now := time.Now().UTC()
	_, err = s.store.Update(ctx, documentID, store.Patch{
		Status:             models.StatusCompleted,
		Summary:            &summary,
		CompletedTimestamp: &now,
	}, models.StatusClassified)
	if errors.Is(err, store.ErrConflict) {
		logCtx.Info("Skipping; another delivery already advanced the record.")
		metrics.StageTotal.WithLabelValues("summarize", metrics.OutcomeConflict).Inc()
		return nil
	}
	if err != nil {
		return err
	}

	logCtx.Info("Summarization complete; document processing finished.")
	metrics.StageTotal.WithLabelValues("summarize", metrics.OutcomeAdvanced).Inc()
	return nil
}
