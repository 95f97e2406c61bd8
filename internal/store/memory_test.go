package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
)

func newTestRecord(id string) *models.DocumentRecord {
	return &models.DocumentRecord{
		DocumentID:      id,
		FileName:        id + ".pdf",
		StorageKey:      models.StorageKeyFor(id, id+".pdf"),
		Status:          models.StatusUploaded,
		UploadTimestamp: time.Now().UTC(),
	}
}

func TestMemoryCreateAndGet(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	if err := st.Create(ctx, newTestRecord("a")); err != nil {
		t.Fatal(err)
	}
	if err := st.Create(ctx, newTestRecord("a")); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate create: err = %v, want ErrAlreadyExists", err)
	}

	rec, err := st.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.StatusUploaded {
		t.Errorf("status = %q, want uploaded", rec.Status)
	}
	if _, err := st.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get missing: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryCreateValidates(t *testing.T) {
	st := NewMemoryStore()
	rec := newTestRecord("a")
	rec.FileName = ""
	if err := st.Create(context.Background(), rec); err == nil {
		t.Error("expected validation error for record without fileName")
	}
}

func TestMemoryConditionalUpdate(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	if err := st.Create(ctx, newTestRecord("a")); err != nil {
		t.Fatal(err)
	}

	ocr := &models.OCRResult{Text: "hello", KeyValuePairs: map[string]string{}}
	updated, err := st.Update(ctx, "a", Patch{Status: models.StatusOCRComplete, OCRResult: ocr}, models.StatusUploaded)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != models.StatusOCRComplete || updated.OCRResult == nil {
		t.Errorf("updated record = %+v", updated)
	}

	// Same guard again: the stored status moved on, so the write must fail
	// with ErrConflict and leave the record untouched.
	_, err = st.Update(ctx, "a", Patch{Status: models.StatusOCRComplete, OCRResult: &models.OCRResult{Text: "other"}}, models.StatusUploaded)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	rec, _ := st.Get(ctx, "a")
	if rec.OCRResult.Text != "hello" {
		t.Errorf("conflicting write mutated the record: %q", rec.OCRResult.Text)
	}

	if _, err := st.Update(ctx, "missing", Patch{Status: models.StatusOCRComplete}, models.StatusUploaded); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	if err := st.Create(ctx, newTestRecord("a")); err != nil {
		t.Fatal(err)
	}

	rec, _ := st.Get(ctx, "a")
	rec.Status = models.StatusCompleted
	rec.FileName = "tampered"

	fresh, _ := st.Get(ctx, "a")
	if fresh.Status != models.StatusUploaded || fresh.FileName == "tampered" {
		t.Error("mutating a returned record leaked into the store")
	}
}

func TestMemoryListNewestFirst(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()
	for i, id := range []string{"old", "mid", "new"} {
		rec := newTestRecord(id)
		rec.UploadTimestamp = base.Add(time.Duration(i) * time.Minute)
		if err := st.Create(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	records, err := st.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("len = %d, want 3", len(records))
	}
	if records[0].DocumentID != "new" || records[2].DocumentID != "old" {
		t.Errorf("order = [%s %s %s], want newest first",
			records[0].DocumentID, records[1].DocumentID, records[2].DocumentID)
	}
}

func TestMemoryWatchDeliversChanges(t *testing.T) {
	st := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := st.Watch(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := st.Create(ctx, newTestRecord("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Update(ctx, "a", Patch{Status: models.StatusOCRComplete, OCRResult: &models.OCRResult{Text: "x"}}, models.StatusUploaded); err != nil {
		t.Fatal(err)
	}

	first := receiveNotification(t, feed)
	if first.EventType != models.EventInsert || first.NewImage == nil || first.NewImage.Status != models.StatusUploaded {
		t.Errorf("first notification = %+v, want INSERT of uploaded record", first)
	}
	second := receiveNotification(t, feed)
	if second.EventType != models.EventModify {
		t.Fatalf("second notification = %+v, want MODIFY", second)
	}
	if second.OldImage == nil || second.OldImage.Status != models.StatusUploaded {
		t.Errorf("old image = %+v, want uploaded", second.OldImage)
	}
	if second.NewImage == nil || second.NewImage.Status != models.StatusOCRComplete {
		t.Errorf("new image = %+v, want ocr-complete", second.NewImage)
	}

	cancel()
	// The channel closes once the watcher is deregistered.
	for {
		if _, ok := <-feed; !ok {
			break
		}
	}
}

func receiveNotification(t *testing.T, feed <-chan models.ChangeNotification) models.ChangeNotification {
	t.Helper()
	select {
	case n := <-feed:
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change notification")
		return models.ChangeNotification{}
	}
}
