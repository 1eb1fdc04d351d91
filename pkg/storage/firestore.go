package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/upstwin/upstwin/pkg/log"
	"github.com/upstwin/upstwin/pkg/scenario"
	"github.com/upstwin/upstwin/pkg/types"
)

const (
	scenariosCollection = "scenarios"
	scenarioVersion     = 1
)

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Each scenario is a document in the "scenarios" collection keyed by name.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// empty project ID is detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func decodeScenarioDoc(ctx context.Context, doc *firestore.DocumentSnapshot) (types.Scenario, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "scenario doc missing json", slog.String("name", doc.Ref.ID))
		return types.Scenario{}, fmt.Errorf("scenario document %s missing 'json' field: %w", doc.Ref.ID, err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "scenario doc json not string", slog.String("name", doc.Ref.ID))
		return types.Scenario{}, fmt.Errorf("scenario document %s 'json' field is not a string", doc.Ref.ID)
	}

	var sc types.Scenario
	if err := json.Unmarshal([]byte(jsonStr), &sc); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal scenario json", slog.String("name", doc.Ref.ID), slog.Any("err", err))
		return types.Scenario{}, fmt.Errorf("failed to unmarshal scenario json: %w", err)
	}
	return sc, nil
}

// GetScenario retrieves the scenario stored under name.
func (f *FirestoreProvider) GetScenario(ctx context.Context, name string) (types.Scenario, error) {
	if name == "" {
		return types.Scenario{}, fmt.Errorf("scenario name cannot be empty")
	}
	doc, err := f.client.Collection(scenariosCollection).Doc(name).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Scenario{}, ErrScenarioNotFound
		}
		return types.Scenario{}, fmt.Errorf("failed to fetch scenario doc: %w", err)
	}
	return decodeScenarioDoc(ctx, doc)
}

// ListScenarios returns every stored scenario ordered by document ID.
func (f *FirestoreProvider) ListScenarios(ctx context.Context) ([]types.Scenario, error) {
	iter := f.client.Collection(scenariosCollection).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var out []types.Scenario
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating scenarios: %w", err)
		}
		sc, err := decodeScenarioDoc(ctx, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

// PutScenario saves the scenario as a JSON string for portability.
func (f *FirestoreProvider) PutScenario(ctx context.Context, sc types.Scenario) error {
	if err := scenario.Validate(sc); err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("failed to marshal scenario: %w", err)
	}
	_, err = f.client.Collection(scenariosCollection).Doc(sc.Name).Set(ctx, map[string]interface{}{
		"json":     string(jsonBytes),
		"topology": string(sc.Topology),
		"version":  scenarioVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to save scenario: %w", err)
	}
	return nil
}
