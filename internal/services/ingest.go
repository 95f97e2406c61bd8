package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/metrics"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/store"
)

// ErrInvalidFileType rejects uploads outside the allowed content types. This
// is a boundary validation error; it never reaches the pipeline core.
var ErrInvalidFileType = errors.New("invalid file type")

// allowedFileTypes are the content types the pipeline accepts.
var allowedFileTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"application/pdf": true,
}

// UploadRequest asks for a write-once upload handle.
type UploadRequest struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

// UploadResponse carries the new document id and its upload handle.
type UploadResponse struct {
	DocumentID string `json:"documentId"`
	UploadURL  string `json:"uploadUrl"`
}

// IngestConfig holds configuration for the ingest stage.
type IngestConfig struct {
	// UploadURLTTL bounds the validity of issued upload handles.
	UploadURLTTL time.Duration
}

// IngestService creates the initial document record and issues the upload
// handle. The record exists in status "uploaded" before any binary content
// is durably stored; the object-store notification fires the extract stage
// once the client completes the upload.
type IngestService struct {
	store   store.RecordStore
	objects ObjectStore
	config  IngestConfig
}

// NewIngest builds the ingest stage handler.
func NewIngest(st store.RecordStore, objects ObjectStore, config IngestConfig) *IngestService {
	if config.UploadURLTTL <= 0 {
		config.UploadURLTTL = time.Hour
	}
	return &IngestService{store: st, objects: objects, config: config}
}

// Process validates the request, mints a document id, issues the signed
// upload URL and creates the record.
func (s *IngestService) Process(ctx context.Context, req UploadRequest) (*UploadResponse, error) {
	if !allowedFileTypes[req.FileType] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFileType, req.FileType)
	}
	if req.FileName == "" {
		return nil, fmt.Errorf("%w: missing file name", ErrInvalidFileType)
	}

	documentID := uuid.NewString()
	key := models.StorageKeyFor(documentID, req.FileName)
	logCtx := slog.With("documentId", documentID, "stage", "ingest")

	uploadURL, err := s.objects.SignedUploadURL(key, req.FileType, s.config.UploadURLTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue upload handle: %w", err)
	}

	rec := &models.DocumentRecord{
		DocumentID:      documentID,
		FileName:        req.FileName,
		StorageKey:      key,
		Status:          models.StatusUploaded,
		UploadTimestamp: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}

	logCtx.Info("Created document record.", "fileName", req.FileName, "storageKey", key)
	metrics.StageTotal.WithLabelValues("ingest", metrics.OutcomeAdvanced).Inc()
	return &UploadResponse{DocumentID: documentID, UploadURL: uploadURL}, nil
}
