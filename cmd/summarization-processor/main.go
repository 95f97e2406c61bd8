package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/gcp"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/services"
	"github.com/Lllllllleong/intelligentdocumentflow/internal/store"
)

var (
	summarizeInstance *services.SummarizeService
	once              sync.Once
	initErr           error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("SummarizeDocument", summarizeDocument)
}

// main is required by the Go Functions Framework.
func main() {}

func summarizeDocument(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		summarizeInstance, initErr = newSummarize(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var change models.ChangeNotification
	if err := json.Unmarshal(e.Data(), &change); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	return summarizeInstance.Process(ctx, change)
}

func newSummarize(ctx context.Context) (*services.SummarizeService, error) {
	projectID := gcp.GetEnv("GCP_PROJECT", "")
	if projectID == "" {
		return nil, fmt.Errorf("GCP_PROJECT environment variable must be set")
	}
	collection := gcp.GetEnv("FIRESTORE_COLLECTION", "documents")
	region := gcp.GetEnv("VERTEX_AI_REGION", "us-central1")

	firestoreClient, err := gcp.NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	vertexClient, err := gcp.NewVertexClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	recordStore := store.NewFirestoreStore(firestoreClient, collection)
	return services.NewSummarize(recordStore, gcp.NewVertexSummarizer(vertexClient)), nil
}
