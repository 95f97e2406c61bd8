package services

import (
	"context"
	"time"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/store"
)

// DocumentSummary is the listing view of a record: enough to render a
// document table without the full OCR payload.
type DocumentSummary struct {
	DocumentID         string                 `json:"documentId"`
	FileName           string                 `json:"fileName"`
	Status             models.Status          `json:"status"`
	UploadTimestamp    time.Time              `json:"uploadTimestamp"`
	Classification     *models.Classification `json:"classification,omitempty"`
	CompletedTimestamp *time.Time             `json:"completedTimestamp,omitempty"`
}

// QueryService serves read-only document state. It never writes; the
// pipeline owns all mutations.
type QueryService struct {
	store store.RecordStore
}

// NewQuery builds the query service.
func NewQuery(st store.RecordStore) *QueryService {
	return &QueryService{store: st}
}

// List returns summaries of all documents, newest upload first.
func (s *QueryService) List(ctx context.Context) ([]DocumentSummary, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]DocumentSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, DocumentSummary{
			DocumentID:         rec.DocumentID,
			FileName:           rec.FileName,
			Status:             rec.Status,
			UploadTimestamp:    rec.UploadTimestamp,
			Classification:     rec.Classification,
			CompletedTimestamp: rec.CompletedTimestamp,
		})
	}
	return summaries, nil
}

// Get returns the full record for a document id, or store.ErrNotFound.
func (s *QueryService) Get(ctx context.Context, documentID string) (*models.DocumentRecord, error) {
	return s.store.Get(ctx, documentID)
}
