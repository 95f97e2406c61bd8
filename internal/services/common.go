package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/metrics"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/store"
)

// markFailed moves a record to the terminal completed state with the failure
// message, guarded by the same precondition status the stage observed. A
// conflict means another delivery already advanced (or failed) the document,
// so the failure is dropped silently. The returned error is non-nil only for
// store failures, which the trigger delivery system may retry.
func markFailed(ctx context.Context, st store.RecordStore, stage, documentID string, expected models.Status, cause error) error {
	logCtx := slog.With("documentId", documentID, "stage", stage)
	logCtx.Error("Stage transformation failed; recording terminal failure.", "error", cause)

	msg := cause.Error()
	now := time.Now().UTC()
	_, err := st.Update(ctx, documentID, store.Patch{
		Status:             models.StatusCompleted,
		ErrorMessage:       &msg,
		CompletedTimestamp: &now,
	}, expected)
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		logCtx.Info("Skipping failure write; record already advanced.")
		metrics.StageTotal.WithLabelValues(stage, metrics.OutcomeConflict).Inc()
		return nil
	}
	if err != nil {
		return err
	}
	metrics.StageTotal.WithLabelValues(stage, metrics.OutcomeFailed).Inc()
	return nil
}
