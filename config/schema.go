// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ghodss/yaml"
	"github.com/repara/rmeasure/pkg/util"
	"github.com/xeipuuv/gojsonschema"
)

// SchemaDir can be overridden (e.g. in tests or packaging) to point at the
// directory containing the bundled *.schema.json files. Defaults to the
// current working directory, matching how the daemons are launched.
var SchemaDir = "."

// ValidateWithSchema validates a YAML configuration file against the named
// JSON Schema file in SchemaDir.
func ValidateWithSchema(path, schemaFile string) error {
	schemaPath, err := filepath.Abs(filepath.Join(SchemaDir, schemaFile))
	if err != nil {
		return fmt.Errorf("could not get absolute path for schema: %w", err)
	}
	if _, statErr := os.Stat(schemaPath); statErr != nil {
		// Schema is optional packaging metadata; struct-tag validation still runs.
		return nil
	}
	schemaLoader := gojsonschema.NewReferenceLoader("file://" + schemaPath)

	yamlFile, err := util.ReadFileSafely(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var configData interface{}
	if err := yaml.Unmarshal(yamlFile, &configData); err != nil {
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	jsonData, err := json.Marshal(configData)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	documentLoader := gojsonschema.NewBytesLoader(jsonData)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate config schema: %w", err)
	}

	if !result.Valid() {
		fmt.Fprintf(os.Stderr, "Configuration is not valid, see errors:\n")
		for _, desc := range result.Errors() {
			fmt.Fprintf(os.Stderr, "- %s\n", desc)
		}
		return fmt.Errorf("configuration is not valid")
	}

	return nil
}
