package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/levenlabs/go-lflag"
	"gopkg.in/yaml.v2"

	"github.com/upstwin/upstwin/pkg/log"
	"github.com/upstwin/upstwin/pkg/scenario"
	"github.com/upstwin/upstwin/pkg/types"
)

const scenarioExt = ".yaml"

// FileProvider stores one YAML file per scenario in a directory.
type FileProvider struct {
	dir string
	mu  sync.Mutex
}

func configuredFile() *FileProvider {
	dir := lflag.String("scenario-dir", "scenarios", "Directory holding scenario YAML files for the file storage provider")

	f := &FileProvider{}

	lflag.Do(func() {
		f.dir = *dir
	})

	return f
}

// NewFileProvider creates a provider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

// Validate checks if the provider is properly configured.
func (f *FileProvider) Validate() error {
	if f.dir == "" {
		return errors.New("scenario-dir cannot be empty")
	}
	return nil
}

func (f *FileProvider) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid scenario name: %q", name)
	}
	return filepath.Join(f.dir, name+scenarioExt), nil
}

func (f *FileProvider) read(path string) (types.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Scenario{}, err
	}
	sc, err := scenario.Parse(data)
	if err != nil {
		return types.Scenario{}, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return sc, nil
}

func (f *FileProvider) GetScenario(ctx context.Context, name string) (types.Scenario, error) {
	path, err := f.path(name)
	if err != nil {
		return types.Scenario{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	sc, err := f.read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return types.Scenario{}, ErrScenarioNotFound
	} else if err != nil {
		return types.Scenario{}, err
	}
	return sc, nil
}

func (f *FileProvider) ListScenarios(ctx context.Context) ([]types.Scenario, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read scenario dir: %w", err)
	}

	var out []types.Scenario
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != scenarioExt {
			continue
		}
		sc, err := f.read(filepath.Join(f.dir, e.Name()))
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping unreadable scenario", slog.String("file", e.Name()), slog.Any("error", err))
			continue
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// PutScenario validates sc and writes it atomically, replacing any scenario
// with the same name.
func (f *FileProvider) PutScenario(ctx context.Context, sc types.Scenario) error {
	if err := scenario.Validate(sc); err != nil {
		return err
	}
	path, err := f.path(sc.Name)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(sc)
	if err != nil {
		return fmt.Errorf("failed to marshal scenario: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create scenario dir: %w", err)
	}
	tmp, err := os.CreateTemp(f.dir, "."+sc.Name+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write scenario: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write scenario: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to save scenario: %w", err)
	}
	return nil
}

func (f *FileProvider) Close() error {
	return nil
}
