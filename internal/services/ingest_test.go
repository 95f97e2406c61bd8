package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/store"
)

func TestIngestCreatesRecordAndUploadHandle(t *testing.T) {
	st := store.NewMemoryStore()
	ingest := NewIngest(st, newFakeObjectStore(), IngestConfig{})

	resp, err := ingest.Process(context.Background(), UploadRequest{
		FileName: "receipt.pdf",
		FileType: "application/pdf",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.DocumentID == "" {
		t.Fatal("empty document id")
	}
	if !strings.Contains(resp.UploadURL, models.DocumentKeyPrefix+resp.DocumentID+".pdf") {
		t.Errorf("upload URL %q does not reference the object key", resp.UploadURL)
	}

	rec, err := st.Get(context.Background(), resp.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.StatusUploaded {
		t.Errorf("status = %q, want %q", rec.Status, models.StatusUploaded)
	}
	if rec.StorageKey != models.DocumentKeyPrefix+resp.DocumentID+".pdf" {
		t.Errorf("storageKey = %q, want key under %q", rec.StorageKey, models.DocumentKeyPrefix)
	}
	if rec.FileName != "receipt.pdf" {
		t.Errorf("fileName = %q, want receipt.pdf", rec.FileName)
	}
	if rec.UploadTimestamp.IsZero() {
		t.Error("uploadTimestamp not set")
	}
}

func TestIngestRejectsUnsupportedFileType(t *testing.T) {
	st := store.NewMemoryStore()
	ingest := NewIngest(st, newFakeObjectStore(), IngestConfig{})

	for _, fileType := range []string{"text/plain", "application/zip", ""} {
		_, err := ingest.Process(context.Background(), UploadRequest{FileName: "a.txt", FileType: fileType})
		if !errors.Is(err, ErrInvalidFileType) {
			t.Errorf("fileType %q: err = %v, want ErrInvalidFileType", fileType, err)
		}
	}

	// Nothing is persisted for rejected uploads.
	records, err := st.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("store holds %d records after rejected uploads, want 0", len(records))
	}
}

func TestIngestRejectsMissingFileName(t *testing.T) {
	ingest := NewIngest(store.NewMemoryStore(), newFakeObjectStore(), IngestConfig{})
	_, err := ingest.Process(context.Background(), UploadRequest{FileType: "image/png"})
	if !errors.Is(err, ErrInvalidFileType) {
		t.Errorf("err = %v, want ErrInvalidFileType", err)
	}
}

func TestIngestSignFailureCreatesNoRecord(t *testing.T) {
	st := store.NewMemoryStore()
	objects := newFakeObjectStore()
	objects.signErr = errors.New("signer unavailable")
	ingest := NewIngest(st, objects, IngestConfig{})

	if _, err := ingest.Process(context.Background(), UploadRequest{FileName: "a.png", FileType: "image/png"}); err == nil {
		t.Fatal("expected error from signer")
	}
	records, _ := st.List(context.Background())
	if len(records) != 0 {
		t.Errorf("store holds %d records after failed signing, want 0", len(records))
	}
}

func TestIngestDefaultsUploadURLTTL(t *testing.T) {
	ingest := NewIngest(store.NewMemoryStore(), newFakeObjectStore(), IngestConfig{})
	if ingest.config.UploadURLTTL != time.Hour {
		t.Errorf("UploadURLTTL = %v, want 1h", ingest.config.UploadURLTTL)
	}
}
