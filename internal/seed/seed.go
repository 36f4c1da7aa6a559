// Package seed installs schema definitions and channels at startup so a fresh
// deployment can validate pipelines immediately. Definitions come from a YAML
// file when one is configured, otherwise from the built-in default schema.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"
	"gopkg.in/yaml.v3"

	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/store"
)

// File is the YAML layout of a schema seed file.
type File struct {
	Definitions []Definition      `yaml:"definitions"`
	Channels    map[string]string `yaml:"channels"`
}

// Definition is one schema definition entry. Channels reference definitions
// by "name@version".
type Definition struct {
	Name       string         `yaml:"name"`
	Version    string         `yaml:"version"`
	Status     string         `yaml:"status"`
	Schema     map[string]any `yaml:"schema"`
	CompatWith []string       `yaml:"compat_with"`
}

// Run installs the definitions and channels from path, or the built-in
// default when path is empty. Existing definitions are left untouched so the
// seed is safe to run on every boot.
func Run(ctx context.Context, s store.Store, path string) error {
	file, err := load(path)
	if err != nil {
		return err
	}

	refs := make(map[string]string, len(file.Definitions))
	for _, d := range file.Definitions {
		if d.Name == "" || d.Version == "" {
			return fmt.Errorf("seed: definition missing name or version")
		}
		if d.Schema == nil {
			return fmt.Errorf("seed: definition %s@%s has no schema", d.Name, d.Version)
		}
		ref := d.Name + "@" + d.Version
		existing, err := s.Schemas().FindDefinition(ctx, d.Name, d.Version)
		if err == nil {
			refs[ref] = existing.ID
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		status := model.SchemaStatus(d.Status)
		if status == "" {
			status = model.SchemaActive
		}
		def := model.SchemaDefinition{
			ID:         uuid.NewString(),
			Name:       d.Name,
			Version:    d.Version,
			Status:     status,
			Schema:     d.Schema,
			CompatWith: d.CompatWith,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.Schemas().CreateDefinition(ctx, def); err != nil {
			return fmt.Errorf("seed: create definition %s: %w", ref, err)
		}
		refs[ref] = def.ID
		log.Infof(ctx, "seeded schema definition %s", ref)
	}

	for name, ref := range file.Channels {
		if !validChannel(name) {
			return fmt.Errorf("seed: unknown channel %q", name)
		}
		id, ok := refs[ref]
		if !ok {
			return fmt.Errorf("seed: channel %s references unknown definition %q", name, ref)
		}
		if err := s.Schemas().UpsertChannel(ctx, model.SchemaChannel{
			Name:              name,
			ActiveSchemaDefID: id,
		}); err != nil {
			return fmt.Errorf("seed: upsert channel %s: %w", name, err)
		}
		log.Infof(ctx, "channel %s -> %s", name, ref)
	}
	return nil
}

func load(path string) (File, error) {
	if path == "" {
		return defaultFile(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("seed: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return File{}, fmt.Errorf("seed: parse %s: %w", path, err)
	}
	return f, nil
}

func validChannel(name string) bool {
	for _, n := range model.ChannelNames {
		if n == name {
			return true
		}
	}
	return false
}

// defaultFile is the schema installed when no seed file is configured: a
// minimal pipeline shape with named stages of known types.
func defaultFile() File {
	return File{
		Definitions: []Definition{{
			Name:    "pipeline",
			Version: "1.0.0",
			Status:  string(model.SchemaActive),
			Schema: map[string]any{
				"$schema":  "https://json-schema.org/draft/2020-12/schema",
				"type":     "object",
				"required": []any{"name", "stages"},
				"properties": map[string]any{
					"name": map[string]any{
						"type":      "string",
						"minLength": 1,
					},
					"description": map[string]any{"type": "string"},
					"stages": map[string]any{
						"type":     "array",
						"minItems": 1,
						"items": map[string]any{
							"type":     "object",
							"required": []any{"name", "type"},
							"properties": map[string]any{
								"name": map[string]any{"type": "string", "minLength": 1},
								"type": map[string]any{
									"type": "string",
									"enum": []any{"source", "map", "filter", "join", "aggregate", "sink"},
								},
								"config": map[string]any{"type": "object"},
								"inputs": map[string]any{
									"type":  "array",
									"items": map[string]any{"type": "string"},
								},
							},
						},
					},
				},
			},
		}},
		Channels: map[string]string{"stable": "pipeline@1.0.0"},
	}
}
