package services

import (
	"context"
	"testing"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/store"
)

func TestSummarizeCompletesClassifiedRecord(t *testing.T) {
	st := store.NewMemoryStore()
	seedDocument(t, st, "doc-1", models.StatusClassified,
		&models.OCRResult{Text: "Invoice #123"},
		&models.Classification{Category: "Invoice", Confidence: 0.85})
	summarizer := &fakeSummarizer{summary: "An invoice for $50."}
	summarize := NewSummarize(st, summarizer)

	if err := summarize.Process(context.Background(), modifyNotification("doc-1", models.StatusClassified)); err != nil {
		t.Fatal(err)
	}

	rec, _ := st.Get(context.Background(), "doc-1")
	if rec.Status != models.StatusCompleted {
		t.Fatalf("status = %q, want %q", rec.Status, models.StatusCompleted)
	}
	if rec.Summary != "An invoice for $50." {
		t.Errorf("summary = %q", rec.Summary)
	}
	if rec.CompletedTimestamp == nil {
		t.Error("completedTimestamp not set")
	}
	if rec.Failed() {
		t.Error("record marked failed on success path")
	}
}

func TestSummarizeFailureMarksRecordTerminal(t *testing.T) {
	st := store.NewMemoryStore()
	seedDocument(t, st, "doc-1", models.StatusClassified,
		&models.OCRResult{Text: "x"},
		&models.Classification{Category: "Other", Confidence: 0.5})
	summarize := NewSummarize(st, &fakeSummarizer{err: errEngineDown})

	if err := summarize.Process(context.Background(), modifyNotification("doc-1", models.StatusClassified)); err != nil {
		t.Fatal(err)
	}

	rec, _ := st.Get(context.Background(), "doc-1")
	if !rec.Failed() {
		t.Fatalf("record = %+v, want failed terminal state", rec)
	}
	if rec.Summary != "" {
		t.Errorf("failed record carries summary %q", rec.Summary)
	}
	// Upstream stage outputs survive the failure shortcut.
	if rec.OCRResult == nil || rec.Classification == nil {
		t.Error("failure dropped upstream stage outputs")
	}
}

func TestSummarizeReplayIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	seedDocument(t, st, "doc-1", models.StatusClassified,
		&models.OCRResult{Text: "x"},
		&models.Classification{Category: "Other", Confidence: 0.5})
	summarizer := &fakeSummarizer{summary: "first"}
	summarize := NewSummarize(st, summarizer)

	n := modifyNotification("doc-1", models.StatusClassified)
	if err := summarize.Process(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	summarizer.summary = "second"
	if err := summarize.Process(context.Background(), n); err != nil {
		t.Fatal(err)
	}

	if got := summarizer.calls.Load(); got != 1 {
		t.Errorf("summarizer called %d times across replayed deliveries, want 1", got)
	}
	rec, _ := st.Get(context.Background(), "doc-1")
	if rec.Summary != "first" {
		t.Errorf("summary = %q, replay must not overwrite", rec.Summary)
	}
}

func TestSummarizeIgnoresNonClassifiedImages(t *testing.T) {
	st := store.NewMemoryStore()
	seedDocument(t, st, "doc-1", models.StatusOCRComplete, &models.OCRResult{Text: "x"}, nil)
	summarizer := &fakeSummarizer{summary: "s"}
	summarize := NewSummarize(st, summarizer)

	if err := summarize.Process(context.Background(), modifyNotification("doc-1", models.StatusOCRComplete)); err != nil {
		t.Fatal(err)
	}
	if got := summarizer.calls.Load(); got != 0 {
		t.Errorf("summarizer called %d times for non-classified image, want 0", got)
	}
}
