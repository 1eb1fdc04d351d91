// Package storage persists the scenario library.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"

	"github.com/upstwin/upstwin/pkg/types"
)

var (
	ErrScenarioNotFound = errors.New("scenario not found")
)

// Database defines the interface for persisting scenarios.
type Database interface {
	GetScenario(ctx context.Context, name string) (types.Scenario, error)
	// ListScenarios returns every stored scenario ordered by name.
	ListScenarios(ctx context.Context) ([]types.Scenario, error)
	PutScenario(ctx context.Context, sc types.Scenario) error

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "file", "Storage provider to use (available: file, firestore)")

	var p struct{ Database }

	fs := configuredFirestore()
	file := configuredFile()

	lflag.Do(func() {
		switch *provider {
		case "file":
			if err := file.Validate(); err != nil {
				panic(fmt.Sprintf("file storage validation failed: %v", err))
			}
			p.Database = file
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
