// pipeline-worker runs the whole processing pipeline in one process: it
// subscribes to the record store's change feed, polls the object store for
// newly uploaded documents, and dispatches each trigger to the matching
// stage handler. It serves the same pipeline as the per-stage Cloud
// Functions, for deployments without managed event delivery.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/gcp"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/pipeline"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/services"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/store"
)

func main() {
	// Load .env if present; silently ignore if not found.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("pipeline-worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	projectID := gcp.GetEnv("GCP_PROJECT", "")
	bucket := gcp.GetEnv("STORAGE_BUCKET", "")
	if projectID == "" || bucket == "" {
		return fmt.Errorf("GCP_PROJECT and STORAGE_BUCKET environment variables must be set")
	}
	region := gcp.GetEnv("VERTEX_AI_REGION", "us-central1")
	maxPages, err := strconv.Atoi(gcp.GetEnv("MAX_PDF_PAGES", "50"))
	if err != nil {
		return fmt.Errorf("invalid MAX_PDF_PAGES: %w", err)
	}
	shards, err := strconv.Atoi(gcp.GetEnv("PIPELINE_SHARDS", "4"))
	if err != nil {
		return fmt.Errorf("invalid PIPELINE_SHARDS: %w", err)
	}

	recordStore, cleanup, err := newRecordStore(ctx, projectID)
	if err != nil {
		return err
	}
	defer cleanup()

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}
	objects := gcp.NewGCSObjectStore(storageClient, bucket)

	vertexClient, err := gcp.NewVertexClient(ctx, projectID, region)
	if err != nil {
		return fmt.Errorf("failed to create vertex client: %w", err)
	}
	defer vertexClient.Close()

	rules := services.DefaultRules()
	if path := gcp.GetEnv("CLASSIFIER_RULES", ""); path != "" {
		if rules, err = services.LoadRules(path); err != nil {
			return err
		}
	}

	handlers := pipeline.Handlers{
		Extract:   services.NewExtract(recordStore, gcp.NewVertexOCREngine(vertexClient, storageClient, maxPages)),
		Classify:  services.NewClassify(recordStore, services.NewRuleClassifier(rules)),
		Summarize: services.NewSummarize(recordStore, gcp.NewVertexSummarizer(vertexClient)),
	}

	objectEvents := make(chan models.StorageEvent, 64)
	poller := pipeline.NewObjectPoller(recordStore, objects, bucket)
	dispatcher := pipeline.NewDispatcher(recordStore, objectEvents, handlers, shards)

	httpServer := &http.Server{
		Addr:    gcp.GetEnv("WORKER_HTTP_ADDR", ":8081"),
		Handler: workerRouter(),
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return poller.Run(ctx, objectEvents) })
	eg.Go(func() error { return dispatcher.Run(ctx) })
	eg.Go(func() error {
		slog.Info("Worker HTTP endpoint listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func workerRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// newRecordStore picks the record store backend: Firestore by default,
// SQLite when SQLITE_PATH is set (single-node deployments).
func newRecordStore(ctx context.Context, projectID string) (store.RecordStore, func(), error) {
	if path := gcp.GetEnv("SQLITE_PATH", ""); path != "" {
		s, err := store.NewSQLiteStore(path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
	client, err := gcp.NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	collection := gcp.GetEnv("FIRESTORE_COLLECTION", "documents")
	return store.NewFirestoreStore(client, collection), func() { client.Close() }, nil
}
