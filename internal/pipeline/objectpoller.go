package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/services"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/store"
)

// ObjectPoller synthesizes object-store notifications for deployments
// without native bucket notifications. It periodically scans records still
// in "uploaded" and emits a StorageEvent once the corresponding object is
// durably stored. Emissions are at-least-once: a document whose extraction
// has not advanced within the retry window is emitted again, and the extract
// handler's precondition absorbs any duplicates.
type ObjectPoller struct {
	store        store.RecordStore
	objects      services.ObjectStore
	bucket       string
	pollInterval time.Duration
	retryAfter   time.Duration

	emitted map[string]time.Time
}

// NewObjectPoller builds a poller emitting events for objects in bucket.
func NewObjectPoller(st store.RecordStore, objects services.ObjectStore, bucket string) *ObjectPoller {
	return &ObjectPoller{
		store:        st,
		objects:      objects,
		bucket:       bucket,
		pollInterval: 5 * time.Second,
		retryAfter:   2 * time.Minute,
		emitted:      make(map[string]time.Time),
	}
}

// Run polls until ctx is cancelled, sending synthesized events to out. It
// closes out on return.
func (p *ObjectPoller) Run(ctx context.Context, out chan<- models.StorageEvent) error {
	defer close(out)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := p.scan(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("Object poll failed.", "error", err)
		}
	}
}

func (p *ObjectPoller) scan(ctx context.Context, out chan<- models.StorageEvent) error {
	records, err := p.store.List(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	pending := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.Status != models.StatusUploaded {
			continue
		}
		pending[rec.DocumentID] = true
		if last, ok := p.emitted[rec.DocumentID]; ok && now.Sub(last) < p.retryAfter {
			continue
		}
		exists, err := p.objects.Exists(ctx, rec.StorageKey)
		if err != nil {
			slog.Error("Object existence check failed.", "documentId", rec.DocumentID, "error", err)
			continue
		}
		if !exists {
			continue
		}
		select {
		case out <- models.StorageEvent{Bucket: p.bucket, Name: rec.StorageKey}:
			p.emitted[rec.DocumentID] = now
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// Drop bookkeeping for documents that advanced past "uploaded".
	for id := range p.emitted {
		if !pending[id] {
			delete(p.emitted, id)
		}
	}
	return nil
}
