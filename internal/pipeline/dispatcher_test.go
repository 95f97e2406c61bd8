package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/services"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/store"
)

type stubOCREngine struct {
	text  string
	calls atomic.Int32
}

func (s *stubOCREngine) AnalyzeDocument(ctx context.Context, bucket, key string) (*models.OCRResult, error) {
	s.calls.Add(1)
	return &models.OCRResult{Text: s.text, KeyValuePairs: map[string]string{}}, nil
}

type stubSummarizer struct {
	calls atomic.Int32
}

func (s *stubSummarizer) Summarize(ctx context.Context, category string, ocr *models.OCRResult) (string, error) {
	s.calls.Add(1)
	return "summary of a " + category, nil
}

type stubObjectStore struct{ objects map[string]bool }

func (s *stubObjectStore) SignedUploadURL(key, contentType string, ttl time.Duration) (string, error) {
	return "https://example.com/" + key, nil
}

func (s *stubObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.objects[key], nil
}

func seedUploaded(t *testing.T, st store.RecordStore, id string) {
	t.Helper()
	err := st.Create(context.Background(), &models.DocumentRecord{
		DocumentID:      id,
		FileName:        id + ".pdf",
		StorageKey:      models.StorageKeyFor(id, id+".pdf"),
		Status:          models.StatusUploaded,
		UploadTimestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func waitForStatus(t *testing.T, st store.RecordStore, id string, want models.Status) *models.DocumentRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := st.Get(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Status == want {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec, _ := st.Get(context.Background(), id)
	t.Fatalf("document %s stuck in %q, want %q", id, rec.Status, want)
	return nil
}

// One object notification drives a document through every stage to the
// terminal state without any other external trigger.
func TestDispatcherRunsFullPipeline(t *testing.T) {
	st := store.NewMemoryStore()
	seedUploaded(t, st, "doc-1")

	ocr := &stubOCREngine{text: "Invoice #123, amount due $50"}
	summarizer := &stubSummarizer{}
	handlers := Handlers{
		Extract:   services.NewExtract(st, ocr),
		Classify:  services.NewClassify(st, services.NewRuleClassifier(nil)),
		Summarize: services.NewSummarize(st, summarizer),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	objects := make(chan models.StorageEvent, 8)
	dispatcher := NewDispatcher(st, objects, handlers, 4)
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()

	objects <- models.StorageEvent{Bucket: "b", Name: "documents/doc-1.pdf"}

	rec := waitForStatus(t, st, "doc-1", models.StatusCompleted)
	if rec.Failed() {
		t.Fatalf("document failed: %s", rec.ErrorMessage)
	}
	if rec.OCRResult == nil || rec.Classification == nil {
		t.Errorf("stage outputs missing: %+v", rec)
	}
	if rec.Classification != nil && rec.Classification.Category != "Invoice" {
		t.Errorf("category = %q, want Invoice", rec.Classification.Category)
	}
	if rec.Summary != "summary of a Invoice" {
		t.Errorf("summary = %q", rec.Summary)
	}

	cancel()
	<-done
}

// Replayed object notifications must not re-run the pipeline or change the
// terminal record.
func TestDispatcherAbsorbsReplayedEvents(t *testing.T) {
	st := store.NewMemoryStore()
	seedUploaded(t, st, "doc-1")

	ocr := &stubOCREngine{text: "prescription drugs"}
	summarizer := &stubSummarizer{}
	handlers := Handlers{
		Extract:   services.NewExtract(st, ocr),
		Classify:  services.NewClassify(st, services.NewRuleClassifier(nil)),
		Summarize: services.NewSummarize(st, summarizer),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	objects := make(chan models.StorageEvent, 16)
	dispatcher := NewDispatcher(st, objects, handlers, 2)
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()

	event := models.StorageEvent{Bucket: "b", Name: "documents/doc-1.pdf"}
	for i := 0; i < 5; i++ {
		objects <- event
	}

	rec := waitForStatus(t, st, "doc-1", models.StatusCompleted)
	first := rec.Clone()

	// Replay again after completion and give the dispatcher time to absorb.
	for i := 0; i < 5; i++ {
		objects <- event
	}
	time.Sleep(200 * time.Millisecond)

	rec, err := st.Get(context.Background(), "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Summary != first.Summary || rec.Status != first.Status {
		t.Errorf("replays changed the terminal record: %+v", rec)
	}
	if got := ocr.calls.Load(); got != 1 {
		t.Errorf("OCR engine ran %d times, want 1", got)
	}
	if got := summarizer.calls.Load(); got != 1 {
		t.Errorf("summarizer ran %d times, want 1", got)
	}

	cancel()
	<-done
}

// Dispatch keys on the document id, so concurrent documents interleave while
// each one still reaches its own terminal state.
func TestDispatcherProcessesDocumentsInParallel(t *testing.T) {
	st := store.NewMemoryStore()
	ids := []string{"doc-1", "doc-2", "doc-3", "doc-4"}
	for _, id := range ids {
		seedUploaded(t, st, id)
	}

	handlers := Handlers{
		Extract:   services.NewExtract(st, &stubOCREngine{text: "w-2 wages"}),
		Classify:  services.NewClassify(st, services.NewRuleClassifier(nil)),
		Summarize: services.NewSummarize(st, &stubSummarizer{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	objects := make(chan models.StorageEvent, 16)
	dispatcher := NewDispatcher(st, objects, handlers, 4)
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()

	for _, id := range ids {
		objects <- models.StorageEvent{Bucket: "b", Name: models.StorageKeyFor(id, id+".pdf")}
	}
	for _, id := range ids {
		rec := waitForStatus(t, st, id, models.StatusCompleted)
		if rec.Failed() {
			t.Errorf("document %s failed: %s", id, rec.ErrorMessage)
		}
	}

	cancel()
	<-done
}

func TestObjectPollerEmitsOnceObjectExists(t *testing.T) {
	st := store.NewMemoryStore()
	seedUploaded(t, st, "doc-1")
	seedUploaded(t, st, "doc-2")

	objects := &stubObjectStore{objects: map[string]bool{
		"documents/doc-1.pdf": true,
		// doc-2's binary has not landed yet.
	}}
	poller := NewObjectPoller(st, objects, "test-bucket")
	poller.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan models.StorageEvent, 8)
	go poller.Run(ctx, out)

	select {
	case e := <-out:
		if e.Name != "documents/doc-1.pdf" || e.Bucket != "test-bucket" {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for synthesized event")
	}

	// doc-2 never fires; doc-1 is deduplicated within the retry window.
	select {
	case e := <-out:
		t.Errorf("unexpected second event: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}
