package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/gcp"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/services"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/store"
)

var (
	extractInstance *services.ExtractService
	once            sync.Once
	initErr         error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Register the CloudEvent function; the framework routes object-store
	// notifications here.
	functions.CloudEvent("ProcessDocument", processDocument)
}

// main is required by the Go Functions Framework.
func main() {}

func processDocument(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		extractInstance, initErr = newExtract(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var storageEvent models.StorageEvent
	if err := json.Unmarshal(e.Data(), &storageEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	if !strings.HasPrefix(storageEvent.Name, models.DocumentKeyPrefix) {
		// Not a document upload; nothing to do.
		return nil
	}

	return extractInstance.Process(ctx, storageEvent)
}

func newExtract(ctx context.Context) (*services.ExtractService, error) {
	projectID := gcp.GetEnv("GCP_PROJECT", "")
	if projectID == "" {
		return nil, fmt.Errorf("GCP_PROJECT environment variable must be set")
	}
	collection := gcp.GetEnv("FIRESTORE_COLLECTION", "documents")
	region := gcp.GetEnv("VERTEX_AI_REGION", "us-central1")
	maxPages, err := strconv.Atoi(gcp.GetEnv("MAX_PDF_PAGES", "50"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_PDF_PAGES: %w", err)
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	recordStore := store.NewFirestoreStore(firestoreClient, collection)
	ocrEngine := gcp.NewVertexOCREngine(vertexClient, storageClient, maxPages)
	return services.NewExtract(recordStore, ocrEngine), nil
}
