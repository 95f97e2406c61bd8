package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/store"
)

// In-memory collaborator fakes shared by the stage handler tests.

type fakeObjectStore struct {
	uploaded map[string]bool
	signErr  error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{uploaded: make(map[string]bool)}
}

func (f *fakeObjectStore) SignedUploadURL(key, contentType string, ttl time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://storage.example.com/" + key + "?sig=test", nil
}

func (f *fakeObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	return f.uploaded[key], nil
}

type fakeOCREngine struct {
	result *models.OCRResult
	err    error
	calls  atomic.Int32
}

func (f *fakeOCREngine) AnalyzeDocument(ctx context.Context, bucket, key string) (*models.OCRResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeSummarizer struct {
	summary string
	err     error
	calls   atomic.Int32
}

func (f *fakeSummarizer) Summarize(ctx context.Context, category string, ocr *models.OCRResult) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

var errEngineDown = errors.New("engine unavailable")

// seedDocument walks a fresh record through the store's own transitions until
// it reaches the requested status.
func seedDocument(t *testing.T, st store.RecordStore, id string, status models.Status, ocr *models.OCRResult, cls *models.Classification) {
	t.Helper()
	ctx := context.Background()
	fileName := id + ".pdf"
	rec := &models.DocumentRecord{
		DocumentID:      id,
		FileName:        fileName,
		StorageKey:      models.StorageKeyFor(id, fileName),
		Status:          models.StatusUploaded,
		UploadTimestamp: time.Now().UTC(),
	}
	if err := st.Create(ctx, rec); err != nil {
		t.Fatalf("seed create: %v", err)
	}
	if status.Rank() >= models.StatusOCRComplete.Rank() {
		if _, err := st.Update(ctx, id, store.Patch{Status: models.StatusOCRComplete, OCRResult: ocr}, models.StatusUploaded); err != nil {
			t.Fatalf("seed ocr-complete: %v", err)
		}
	}
	if status.Rank() >= models.StatusClassified.Rank() {
		if _, err := st.Update(ctx, id, store.Patch{Status: models.StatusClassified, Classification: cls}, models.StatusOCRComplete); err != nil {
			t.Fatalf("seed classified: %v", err)
		}
	}
	if status.Rank() >= models.StatusCompleted.Rank() {
		summary := "seeded summary"
		now := time.Now().UTC()
		if _, err := st.Update(ctx, id, store.Patch{Status: models.StatusCompleted, Summary: &summary, CompletedTimestamp: &now}, models.StatusClassified); err != nil {
			t.Fatalf("seed completed: %v", err)
		}
	}
}
