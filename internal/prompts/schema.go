package prompts

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const classificationSchema = `{
  "type": "object",
  "required": ["prompts"],
  "properties": {
    "prompts": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "description"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"}
        }
      }
    }
  }
}`

const extractionSchema = `{
  "type": "object",
  "required": ["prompts"],
  "properties": {
    "prompts": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "question"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "question": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schemas    map[Kind]*jsonschema.Schema
	schemaErr  error
)

func schemaFor(kind Kind) (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schemas = make(map[Kind]*jsonschema.Schema, 2)
		for kind, raw := range map[Kind]string{
			KindClassification: classificationSchema,
			KindExtraction:     extractionSchema,
		} {
			compiler := jsonschema.NewCompiler()
			name := string(kind) + ".json"
			if err := compiler.AddResource(name, bytes.NewReader([]byte(raw))); err != nil {
				schemaErr = fmt.Errorf("add %s schema: %w", kind, err)
				return
			}
			schema, err := compiler.Compile(name)
			if err != nil {
				schemaErr = fmt.Errorf("compile %s schema: %w", kind, err)
				return
			}
			schemas[kind] = schema
		}
	})
	if schemaErr != nil {
		return nil, schemaErr
	}
	schema, ok := schemas[kind]
	if !ok {
		return nil, fmt.Errorf("unknown prompt kind %q", kind)
	}
	return schema, nil
}
