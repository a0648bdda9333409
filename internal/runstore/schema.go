package runstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// runDocumentSchema is the wire contract for run.json. Enumeration
// skips documents that fail it rather than surfacing junk runs.
const runDocumentSchema = `{
  "type": "object",
  "required": ["id", "status", "driver", "executor", "programPath", "createdAt", "updatedAt", "paths"],
  "properties": {
    "id": {"type": "string", "pattern": "^run_"},
    "status": {"enum": ["pending", "running", "complete", "failed", "cancelled"]},
    "driver": {"type": "string", "minLength": 1},
    "executor": {"type": "string", "minLength": 1},
    "programPath": {"type": "string", "minLength": 1},
    "programDigest": {"type": "string"},
    "createdAt": {"type": "string"},
    "updatedAt": {"type": "string"},
    "paths": {
      "type": "object",
      "required": ["runDir", "runFile", "eventsFile", "resultFile"],
      "properties": {
        "runDir": {"type": "string", "minLength": 1},
        "runFile": {"type": "string", "minLength": 1},
        "eventsFile": {"type": "string", "minLength": 1},
        "resultFile": {"type": "string", "minLength": 1}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("mill://run.schema.json", strings.NewReader(runDocumentSchema)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("mill://run.schema.json")
	})
	return schema, schemaErr
}

func validateRunDocument(b []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("run document schema: %w", err)
	}
	return nil
}
