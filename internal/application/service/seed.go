package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/garyjia/workflow-engine/internal/domain/definition"
	"github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// SeedLoader creates definitions from YAML or JSON files at startup
type SeedLoader struct {
	definitions DefinitionService
	logger      Logger
	activate    bool
}

// SeedOption configures a SeedLoader
type SeedOption func(*SeedLoader)

// WithActivation activates each newly created definition
func WithActivation(activate bool) SeedOption {
	return func(l *SeedLoader) {
		l.activate = activate
	}
}

// NewSeedLoader creates a SeedLoader
func NewSeedLoader(definitions DefinitionService, logger Logger, opts ...SeedOption) *SeedLoader {
	l := &SeedLoader{definitions: definitions, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadDir creates one definition per *.yaml, *.yml or *.json file in dir,
// in file name order. Definitions whose id already exists are skipped, so
// loading is idempotent. A missing dir is not an error.
func (l *SeedLoader) LoadDir(ctx context.Context, dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read seed dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	created := 0
	for _, name := range names {
		path := filepath.Join(dir, name)
		raw, err := ParseFile(path)
		if err != nil {
			return created, err
		}

		def, err := l.definitions.Create(ctx, raw)
		switch {
		case errors.Is(err, workflow.ErrConflict):
			l.logger.Info("Seed definition already present", "file", name)
			continue
		case err != nil:
			return created, fmt.Errorf("seed %s: %w", name, err)
		}
		if l.activate {
			if def, err = l.definitions.Activate(ctx, def.ID); err != nil {
				return created, fmt.Errorf("activate seed %s: %w", name, err)
			}
		}
		created++
		l.logger.Info("Seed definition loaded", "file", name, "definition_id", def.ID, "status", def.Status)
	}
	return created, nil
}

// ParseFile reads a raw definition document, choosing the decoder by extension
func ParseFile(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return definition.ParseJSON(data)
	}
	return definition.ParseYAML(data)
}
