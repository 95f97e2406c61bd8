// Package pipeline wires the stage handlers to their triggers. The
// coordinator is deliberately implicit: each handler's conditional write to
// the record store produces a change notification, and the dispatcher routes
// that notification to the next stage's handler. Ordering per document is
// preserved by sharding dispatch on the document id; different documents
// process fully in parallel.
package pipeline

import (
	"context"
	"hash/fnv"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/services"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/store"
)

// Handlers bundles the stage handlers the dispatcher routes to.
type Handlers struct {
	Extract   *services.ExtractService
	Classify  *services.ClassifyService
	Summarize *services.SummarizeService
}

// Dispatcher is the explicit subscription loop: it consumes the record
// store's change feed plus an object notification channel, decodes each
// event into a typed trigger, and invokes the matching stage handler.
type Dispatcher struct {
	store    store.RecordStore
	objects  <-chan models.StorageEvent
	handlers Handlers
	shards   int
}

// NewDispatcher builds a dispatcher. shards bounds cross-document
// parallelism; values below 1 default to 4.
func NewDispatcher(st store.RecordStore, objects <-chan models.StorageEvent, handlers Handlers, shards int) *Dispatcher {
	if shards < 1 {
		shards = 4
	}
	return &Dispatcher{store: st, objects: objects, handlers: handlers, shards: shards}
}

// Run blocks until ctx is cancelled, dispatching triggers as they arrive.
// Handler errors are logged and dropped; every handler is idempotent, so a
// lost invocation is recovered by the next delivery of the same trigger.
func (d *Dispatcher) Run(ctx context.Context) error {
	feed, err := d.store.Watch(ctx)
	if err != nil {
		return err
	}

	shardChans := make([]chan func(), d.shards)
	for i := range shardChans {
		shardChans[i] = make(chan func(), 64)
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, ch := range shardChans {
		ch := ch
		eg.Go(func() error {
			for task := range ch {
				task()
			}
			return nil
		})
	}

	eg.Go(func() error {
		defer func() {
			for _, ch := range shardChans {
				close(ch)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case e, ok := <-d.objects:
				if !ok {
					d.objects = nil
					continue
				}
				d.routeObject(ctx, shardChans, e)
			case n, ok := <-feed:
				if !ok {
					return nil
				}
				d.routeChange(ctx, shardChans, n)
			}
		}
	})
	return eg.Wait()
}

func (d *Dispatcher) routeObject(ctx context.Context, shards []chan func(), e models.StorageEvent) {
	documentID, err := e.DocumentID()
	if err != nil {
		// Objects outside the documents/ prefix are not pipeline input.
		slog.Debug("Ignoring object event.", "key", e.Name, "error", err)
		return
	}
	d.submit(ctx, shards, documentID, func() {
		if err := d.handlers.Extract.Process(ctx, e); err != nil {
			slog.Error("Extract handler failed.", "documentId", documentID, "error", err)
		}
	})
}

func (d *Dispatcher) routeChange(ctx context.Context, shards []chan func(), n models.ChangeNotification) {
	if n.EventType != models.EventModify || n.NewImage == nil {
		return
	}
	documentID := n.Keys.DocumentID
	switch n.NewImage.Status {
	case models.StatusOCRComplete:
		d.submit(ctx, shards, documentID, func() {
			if err := d.handlers.Classify.Process(ctx, n); err != nil {
				slog.Error("Classify handler failed.", "documentId", documentID, "error", err)
			}
		})
	case models.StatusClassified:
		d.submit(ctx, shards, documentID, func() {
			if err := d.handlers.Summarize.Process(ctx, n); err != nil {
				slog.Error("Summarize handler failed.", "documentId", documentID, "error", err)
			}
		})
	}
}

// submit enqueues a task on the shard owning documentID, preserving
// per-document dispatch order.
func (d *Dispatcher) submit(ctx context.Context, shards []chan func(), documentID string, task func()) {
	h := fnv.New32a()
	h.Write([]byte(documentID))
	ch := shards[int(h.Sum32())%len(shards)]
	select {
	case ch <- task:
	case <-ctx.Done():
	}
}
