// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateWithSchema_NoSchemaFilePresent(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "rmeasured.yaml", "pipe:\n  path: /tmp/x\n")

	old := SchemaDir
	SchemaDir = dir // no schema file here
	defer func() { SchemaDir = old }()

	if err := ValidateWithSchema(path, "rmeasured.schema.json"); err != nil {
		t.Errorf("ValidateWithSchema() with absent schema should be a no-op, got %v", err)
	}
}

func TestValidateWithSchema_ValidDocument(t *testing.T) {
	repoRoot := findRepoRoot(t)
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "rmeasured.yaml", `
server:
  rpc_addr: ":7890"
pipe:
  path: /tmp/rmeasure.fifo
sockets:
  - name: cpu0
    hppdl: "0"
`)
	old := SchemaDir
	SchemaDir = repoRoot
	defer func() { SchemaDir = old }()

	if err := ValidateWithSchema(path, "rmeasured.schema.json"); err != nil {
		t.Errorf("ValidateWithSchema() error = %v", err)
	}
}

func TestValidateWithSchema_InvalidType(t *testing.T) {
	repoRoot := findRepoRoot(t)
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "rmeasured.yaml", `
server:
  rate_limit_burst: "not-a-number"
pipe:
  path: /tmp/rmeasure.fifo
`)
	old := SchemaDir
	SchemaDir = repoRoot
	defer func() { SchemaDir = old }()

	if err := ValidateWithSchema(path, "rmeasured.schema.json"); err == nil {
		t.Error("expected schema validation error for wrong type")
	}
}

// findRepoRoot walks up from the working directory to locate
// rmeasured.schema.json, so tests work regardless of the package's depth.
func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "rmeasured.schema.json")); err == nil {
			return dir
		}
		dir = filepath.Dir(dir)
	}
	t.Fatalf("could not locate repo root containing rmeasured.schema.json")
	return ""
}
