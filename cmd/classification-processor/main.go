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
	classifyInstance *services.ClassifyService
	once             sync.Once
	initErr          error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("ClassifyDocument", classifyDocument)
}

// main is required by the Go Functions Framework.
func main() {}

func classifyDocument(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		classifyInstance, initErr = newClassify(context.Background())
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

	return classifyInstance.Process(ctx, change)
}

func newClassify(ctx context.Context) (*services.ClassifyService, error) {
	projectID := gcp.GetEnv("GCP_PROJECT", "")
	if projectID == "" {
		return nil, fmt.Errorf("GCP_PROJECT environment variable must be set")
	}
	collection := gcp.GetEnv("FIRESTORE_COLLECTION", "documents")

	rules := services.DefaultRules()
	if path := gcp.GetEnv("CLASSIFIER_RULES", ""); path != "" {
		loaded, err := services.LoadRules(path)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, err
	}

	recordStore := store.NewFirestoreStore(firestoreClient, collection)
	return services.NewClassify(recordStore, services.NewRuleClassifier(rules)), nil
}
