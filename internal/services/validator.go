package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/chordwave/backend/internal/models"
)

type Validator struct {
	inputSchemas  map[string]*jsonschema.Schema
	outputSchemas map[string]*jsonschema.Schema
}

// NewValidator loads all *.json schema files from schemaDir and compiles
// input_schema and output_schema per generation kind. File names map to kinds
// (music.v1.json -> music).
func NewValidator(ctx context.Context, schemaDir string) (*Validator, error) {
	_ = ctx
	entries, err := os.ReadDir(schemaDir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir %q: %w", schemaDir, err)
	}
	inputSchemas := make(map[string]*jsonschema.Schema)
	outputSchemas := make(map[string]*jsonschema.Schema)

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		kind := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		kind = strings.TrimSuffix(kind, ".v1")
		path := filepath.Join(schemaDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		var file struct {
			Properties struct {
				InputSchema  json.RawMessage `json:"input_schema"`
				OutputSchema json.RawMessage `json:"output_schema"`
			} `json:"properties"`
		}
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse %q: %w", path, err)
		}
		if len(file.Properties.InputSchema) == 0 || len(file.Properties.OutputSchema) == 0 {
			return nil, fmt.Errorf("%q: missing input_schema or output_schema", path)
		}
		wrapper := file.Properties
		inputID := "https://chordwave.app/schemas/" + kind + ".input"
		outputID := "https://chordwave.app/schemas/" + kind + ".output"
		inputSchemas[kind], err = jsonschema.CompileString(inputID, string(wrapper.InputSchema))
		if err != nil {
			return nil, fmt.Errorf("compile input schema %q: %w", kind, err)
		}
		outputSchemas[kind], err = jsonschema.CompileString(outputID, string(wrapper.OutputSchema))
		if err != nil {
			return nil, fmt.Errorf("compile output schema %q: %w", kind, err)
		}
	}

	return &Validator{
		inputSchemas:  inputSchemas,
		outputSchemas: outputSchemas,
	}, nil
}

// ValidateParams performs hard reject: returns an error if the generation
// params do not match the kind's input_schema.
func (v *Validator) ValidateParams(ctx context.Context, kind string, params json.RawMessage) error {
	schema, ok := v.inputSchemas[kind]
	if !ok {
		return fmt.Errorf("unknown generation kind %q", kind)
	}
	var doc interface{}
	if err := json.Unmarshal(params, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// ValidateOutput performs soft flag: returns an error if a provider payload
// does not match the kind's output_schema. Callers log rather than reject;
// provider responses drift and a completed artifact should not be discarded
// over a schema mismatch.
func (v *Validator) ValidateOutput(ctx context.Context, kind string, output json.RawMessage) error {
	schema, ok := v.outputSchemas[kind]
	if !ok {
		return fmt.Errorf("unknown generation kind %q", kind)
	}
	var doc interface{}
	if err := json.Unmarshal(output, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// ErrValidation can be used with errors.Is to detect validation failures.
var ErrValidation = errors.New("validation failed")

// Credit pricing per kind.
const (
	MusicTrackCost      = 100 // flat per track
	ImageCostPerItem    = 50
	VideoCostPerSecond  = 15
	DefaultImageCount   = 1
	DefaultVideoSeconds = 10
	MaxImageCount       = 8
	MaxVideoSeconds     = 20
)

// Cost computes the credit price of a generation request from its kind and
// params. It only reads the fields pricing depends on; full param validation
// is the Validator's job.
func Cost(kind string, params json.RawMessage) (int, error) {
	switch kind {
	case models.KindMusic:
		return MusicTrackCost, nil
	case models.KindImage:
		var p struct {
			N int `json:"n"`
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return 0, fmt.Errorf("image params: %w", err)
			}
		}
		if p.N <= 0 {
			p.N = DefaultImageCount
		}
		if p.N > MaxImageCount {
			return 0, fmt.Errorf("image count %d exceeds maximum %d", p.N, MaxImageCount)
		}
		return p.N * ImageCostPerItem, nil
	case models.KindVideo:
		var p struct {
			DurationSeconds int `json:"duration_seconds"`
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return 0, fmt.Errorf("video params: %w", err)
			}
		}
		if p.DurationSeconds <= 0 {
			p.DurationSeconds = DefaultVideoSeconds
		}
		if p.DurationSeconds > MaxVideoSeconds {
			return 0, fmt.Errorf("video duration %ds exceeds maximum %ds", p.DurationSeconds, MaxVideoSeconds)
		}
		return p.DurationSeconds * VideoCostPerSecond, nil
	default:
		return 0, fmt.Errorf("unknown generation kind %q", kind)
	}
}
