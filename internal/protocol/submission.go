package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Submission is one program sent for execution.
type Submission struct {
	Code    string          `json:"code"`
	Graph   json.RawMessage `json:"graph"`
	Version string          `json:"version"`
	Options *Options        `json:"options,omitempty"`
}

// Options adjust a single execution. Resource options can only lower the
// configured ceilings.
type Options struct {
	FloatPrecision *int     `json:"float_precision,omitempty"`
	InputList      []string `json:"input_list,omitempty"`
	RandSeed       *int64   `json:"rand_seed,omitempty"`
	MaxReprLength  *int     `json:"max_repr_length,omitempty"`
	TimeOut        *int     `json:"exec_time_out,omitempty"`
	MemOut         *int     `json:"exec_mem_out,omitempty"`
}

// GraphBytes returns the graph as Cytoscape JSON. A graph submitted as a
// JSON string holding the document is unwrapped.
func (s *Submission) GraphBytes() []byte {
	raw := bytes.TrimSpace(s.Graph)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			return []byte(text)
		}
	}
	return raw
}

// Errors returned for submissions that cannot be run.
var (
	ErrNoCode    = errors.New("No Code Snippets Embedded In The Request.")
	ErrNoGraph   = errors.New("No Graph Intel Embedded In The Request.")
	ErrMalformed = errors.New("malformed submission")
)

const submissionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["code", "graph"],
  "properties": {
    "code": {"type": "string"},
    "graph": {"type": ["object", "string", "null"]},
    "version": {"type": "string"},
    "options": {
      "type": ["object", "null"],
      "properties": {
        "float_precision": {"type": "integer", "minimum": -1, "maximum": 17},
        "input_list": {"type": "array", "items": {"type": "string"}},
        "rand_seed": {"type": "integer"},
        "max_repr_length": {"type": "integer", "minimum": 0},
        "exec_time_out": {"type": "integer", "minimum": 1},
        "exec_mem_out": {"type": "integer", "minimum": 1}
      },
      "additionalProperties": false
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
		if err := c.AddResource("submission.json", strings.NewReader(submissionSchema)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("submission.json")
	})
	return schema, schemaErr
}

// ParseSubmission decodes and validates a submission.
func ParseSubmission(data []byte) (*Submission, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if obj, ok := doc.(map[string]any); ok {
		if _, ok := obj["code"]; !ok {
			return nil, ErrNoCode
		}
		if _, ok := obj["graph"]; !ok {
			return nil, ErrNoGraph
		}
	}
	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling submission schema: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	var s Submission
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &s, nil
}
