package catalog

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/shellflow/shellflow/pkg/models"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// FileReader loads script definitions from a directory tree and serves them
// from memory. Layout: <root>/atomic/*.json and <root>/aggregated/*.json.
// Every definition is schema-validated and struct-validated at load time, so
// a FileReader that constructed successfully only hands out valid scripts.
type FileReader struct {
	atomic     map[string]*models.AtomicScript
	aggregated map[string]*models.AggregatedScript
	logger     *slog.Logger
}

// NewFileReader loads and validates the whole catalog rooted at root.
func NewFileReader(logger *slog.Logger, root string) (*FileReader, error) {
	root = strings.Replace(root, "file://", "", 1)

	reader := &FileReader{
		atomic:     make(map[string]*models.AtomicScript),
		aggregated: make(map[string]*models.AggregatedScript),
		logger:     logger,
	}

	atomicSchema, err := compileSchema("schemas/atomic_script.schema.json")
	if err != nil {
		return nil, err
	}

	aggregatedSchema, err := compileSchema("schemas/aggregated_script.schema.json")
	if err != nil {
		return nil, err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	err = loadDir(filepath.Join(root, "atomic"), atomicSchema, func(path string, data []byte) error {
		var script models.AtomicScript
		if err := json.Unmarshal(data, &script); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		if err := validate.Struct(&script); err != nil {
			return fmt.Errorf("invalid atomic script %s: %w", path, err)
		}

		if _, exists := reader.atomic[script.ID]; exists {
			return fmt.Errorf("duplicate atomic script id %q in %s", script.ID, path)
		}

		reader.atomic[script.ID] = &script

		return nil
	})
	if err != nil {
		return nil, err
	}

	err = loadDir(filepath.Join(root, "aggregated"), aggregatedSchema, func(path string, data []byte) error {
		var script models.AggregatedScript
		if err := json.Unmarshal(data, &script); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		if err := validate.Struct(&script); err != nil {
			return fmt.Errorf("invalid aggregated script %s: %w", path, err)
		}

		if _, exists := reader.aggregated[script.ID]; exists {
			return fmt.Errorf("duplicate aggregated script id %q in %s", script.ID, path)
		}

		reader.aggregated[script.ID] = &script

		return nil
	})
	if err != nil {
		return nil, err
	}

	// Cross-reference checks need the full atomic map, so they run last.
	for _, aggregated := range reader.aggregated {
		err := aggregated.ValidateSteps(func(id string) (*models.AtomicScript, error) {
			script, ok := reader.atomic[id]
			if !ok {
				return nil, models.ErrScriptNotFound
			}

			return script, nil
		})
		if err != nil {
			return nil, fmt.Errorf("aggregated script %q: %w", aggregated.ID, err)
		}
	}

	logger.Info("Catalog loaded",
		"atomic_scripts", len(reader.atomic),
		"aggregated_scripts", len(reader.aggregated))

	return reader, nil
}

func compileSchema(name string) (*gojsonschema.Schema, error) {
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded schema %s: %w", name, err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	return schema, nil
}

func loadDir(dir string, schema *gojsonschema.Schema, accept func(path string, data []byte) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		// An absent subdirectory means an empty section, not a broken catalog.
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to read catalog directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
		if err != nil {
			return fmt.Errorf("failed to validate %s: %w", path, err)
		}

		if !result.Valid() {
			descriptions := make([]string, 0, len(result.Errors()))
			for _, desc := range result.Errors() {
				descriptions = append(descriptions, desc.String())
			}

			return fmt.Errorf("%s does not match schema: %s", path, strings.Join(descriptions, "; "))
		}

		if err := accept(path, data); err != nil {
			return err
		}
	}

	return nil
}

func (r *FileReader) GetAtomicScript(_ context.Context, id string) (*models.AtomicScript, error) {
	script, ok := r.atomic[id]
	if !ok {
		return nil, fmt.Errorf("atomic script %q: %w", id, models.ErrScriptNotFound)
	}

	return script, nil
}

func (r *FileReader) GetAggregatedScript(_ context.Context, id string) (*models.AggregatedScript, error) {
	script, ok := r.aggregated[id]
	if !ok {
		return nil, fmt.Errorf("aggregated script %q: %w", id, models.ErrWorkflowNotFound)
	}

	return script, nil
}

func (r *FileReader) ListAggregatedScripts(_ context.Context) ([]*models.AggregatedScript, error) {
	scripts := make([]*models.AggregatedScript, 0, len(r.aggregated))
	for _, script := range r.aggregated {
		scripts = append(scripts, script)
	}

	sort.Slice(scripts, func(i, j int) bool { return scripts[i].ID < scripts[j].ID })

	return scripts, nil
}
