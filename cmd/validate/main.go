package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mkrelic/questline/internal/storage"
	"github.com/mkrelic/questline/pkg/quest"
)

// questSchema is the structural JSON Schema for a quest definition file.
// Schema violations are errors; guard ambiguity is reported as warnings
// since the runtime's first-declared-wins behavior is defined either way.
const questSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "name", "transitions", "terminal"],
  "properties": {
    "id": {"type": "integer", "minimum": 1},
    "name": {"type": "string", "minLength": 1},
    "npcs": {"type": "array", "items": {"type": "integer"}},
    "terminal": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
    "fallback_narrative": {"type": "string"},
    "transitions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["to"],
        "properties": {
          "from": {"type": "string"},
          "to": {"type": "string", "minLength": 1},
          "narrative": {"type": "string"},
          "guard": {"type": "object"},
          "effects": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["type"],
              "properties": {
                "type": {
                  "enum": ["grant_item", "consume_item", "grant_exp", "grant_mesos",
                           "consume_mesos", "grant_fame", "set_stage", "warp"]
                }
              }
            }
          }
        }
      }
    }
  }
}`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <quest.json|dir> [...]\n", os.Args[0])
		os.Exit(1)
	}

	schema, err := jsonschema.CompileString("quest.schema.json", questSchema)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to compile quest schema: %v\n", err)
		os.Exit(1)
	}

	v := &questValidator{schema: schema}
	for _, arg := range os.Args[1:] {
		if err := v.validatePath(arg); err != nil {
			fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
			os.Exit(1)
		}
	}

	for _, w := range v.warnings {
		fmt.Printf("warning: %s\n", w)
	}
	fmt.Printf("%d quest file(s) valid, %d warning(s)\n", v.checked, len(v.warnings))
}

type questValidator struct {
	schema   *jsonschema.Schema
	checked  int
	warnings []string
}

func (v *questValidator) validatePath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return v.validateFile(path)
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != ".json" {
			return nil
		}
		return v.validateFile(p)
	})
}

func (v *questValidator) validateFile(filename string) error {
	fmt.Printf("Validating %s...\n", filename)

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filename, err)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("file %s contains invalid JSON: %w", filename, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("file %s failed schema validation: %w", filename, err)
	}

	var def quest.Definition
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&def); err != nil {
		return fmt.Errorf("file %s failed strict JSON unmarshaling: %w", filename, err)
	}

	if err := quest.ValidateDefinition(&def); err != nil {
		return fmt.Errorf("file %s: %w", filename, err)
	}

	// Cross-check the catalog loader accepts the file the same way.
	if _, err := storage.ReadDefinition(filename); err != nil {
		return err
	}

	for _, w := range quest.LintAmbiguousGuards(&def) {
		v.warnings = append(v.warnings, fmt.Sprintf("%s: %s", filename, w))
	}

	v.checked++
	return nil
}
