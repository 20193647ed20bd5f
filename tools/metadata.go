// Package tools implements the two-tier tool catalogue (pool and registry),
// metadata validation, and the model-assisted understanding agent that
// enriches a tool's declared metadata with capabilities, limitations, and
// use cases. Grounded on the teacher's registry.service validation helpers
// (JSON Schema compilation via santhosh-tekuri/jsonschema/v6) and
// runtime/registry/cache.go for the manifest cache shape.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"planscope/errs"
)

// Kind identifies how a tool is invoked: a plain function call, or a
// text/vision-language model call that expects a rendered prompt.
type Kind string

const (
	KindFunction Kind = "function"
	KindLLM      Kind = "llm"
	KindVL       Kind = "vl"
)

// Parameter describes one entry of a tool's input_parameters mapping.
type Parameter struct {
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description"`
}

// Metadata is the immutable description captured when a tool is added to
// the pool. Regenerating a tool's metadata produces a new Metadata value
// rather than mutating this one.
type Metadata struct {
	Name            string               `json:"name"`
	Description     string               `json:"description"`
	Kind            Kind                 `json:"kind"`
	InputParameters map[string]Parameter `json:"input_parameters"`
	OutputSchema    json.RawMessage      `json:"output_schema,omitempty"`
}

// Validate enforces the pool insertion invariants: name, description, kind,
// well-formed input_parameters, and for kind∈{llm,vl} a non-empty
// output_schema declaring a `content` property. Violations are a
// programming error, not a runtime condition, so the caller is expected to
// fix the registration rather than retry.
func (m Metadata) Validate() error {
	if m.Name == "" {
		return errs.New(errs.ToolNotFound, "tool metadata: name is required")
	}
	if m.Description == "" {
		return errs.Newf(errs.ToolNotFound, "tool %q: description is required", m.Name)
	}
	switch m.Kind {
	case KindFunction, KindLLM, KindVL:
	default:
		return errs.Newf(errs.ToolNotFound, "tool %q: unknown kind %q", m.Name, m.Kind)
	}
	for name, p := range m.InputParameters {
		if p.Type == "" {
			return errs.Newf(errs.ToolNotFound, "tool %q: parameter %q missing type", m.Name, name)
		}
	}
	if m.Kind == KindLLM || m.Kind == KindVL {
		if len(m.OutputSchema) == 0 {
			return errs.Newf(errs.ToolNotFound, "tool %q: kind %q requires output_schema", m.Name, m.Kind)
		}
		if err := validateDeclaresContent(m.OutputSchema); err != nil {
			return errs.Newf(errs.ToolNotFound, "tool %q: %v", m.Name, err)
		}
	}
	return nil
}

// ValidateOutput compiles m.OutputSchema and checks output against it.
// Compilation failures and schema violations are both reported; a missing
// schema is not validated (function-kind tools rarely declare one).
func (m Metadata) ValidateOutput(output any) error {
	if len(m.OutputSchema) == 0 {
		return nil
	}
	schema, err := compileSchema(m.OutputSchema)
	if err != nil {
		return err
	}
	if err := schema.Validate(output); err != nil {
		return fmt.Errorf("tool %q: output schema validation: %w", m.Name, err)
	}
	return nil
}

func validateDeclaresContent(raw json.RawMessage) error {
	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("output_schema: invalid JSON: %w", err)
	}
	if _, ok := doc.Properties["content"]; !ok {
		return fmt.Errorf("output_schema: must declare a content property")
	}
	return nil
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("output_schema: invalid JSON: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("output_schema: add resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("output_schema: compile: %w", err)
	}
	return schema, nil
}
