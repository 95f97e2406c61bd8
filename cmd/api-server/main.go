package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/api"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/gcp"
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

	if err := run(ctx); err != nil {
		slog.Error("api-server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	bucket := gcp.GetEnv("STORAGE_BUCKET", "")
	if bucket == "" {
		return fmt.Errorf("STORAGE_BUCKET environment variable must be set")
	}

	recordStore, cleanup, err := newRecordStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}
	objects := gcp.NewGCSObjectStore(storageClient, bucket)

	ingest := services.NewIngest(recordStore, objects, services.IngestConfig{})
	query := services.NewQuery(recordStore)
	server := &http.Server{
		Addr:    gcp.GetEnv("API_HOST", "") + ":" + gcp.GetEnv("API_PORT", "8080"),
		Handler: api.New(ingest, query).Router(),
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.Info("API server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// newRecordStore picks the record store backend from the environment:
// Firestore when GCP_PROJECT is set, SQLite otherwise.
func newRecordStore(ctx context.Context) (store.RecordStore, func(), error) {
	if projectID := gcp.GetEnv("GCP_PROJECT", ""); projectID != "" {
		client, err := gcp.NewFirestoreClient(ctx, projectID)
		if err != nil {
			return nil, nil, err
		}
		collection := gcp.GetEnv("FIRESTORE_COLLECTION", "documents")
		return store.NewFirestoreStore(client, collection), func() { client.Close() }, nil
	}
	path := gcp.GetEnv("SQLITE_PATH", "documents.db")
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { s.Close() }, nil
}
