package experience

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/playperu/snapbooth/internal/booth"
)

const schemaID = "https://snapbooth.playperu.dev/schemas/experience-v1.json"

// GenerateJSONSchema produces a JSON Schema (Draft 2020-12) for
// booth.Experience.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&booth.Experience{})
	s.ID = jsonschema.ID(schemaID)
	s.Title = "Snapbooth experience"
	s.Description = "An ordered list of steps a guest walks through, plus an optional AI outcome"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal experience schema: %w", err)
	}
	return data, nil
}

func compileSchema() (*sjsonschema.Schema, error) {
	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := sjsonschema.NewCompiler()
	if err := c.AddResource("experience-v1.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("experience-v1.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
}

// validateSemantic checks exp against the generated schema.
func validateSemantic(exp *booth.Experience) []*ValidationError {
	sch, err := compileSchema()
	if err != nil {
		return []*ValidationError{errorf(phaseSemantic, "", "%v", err)}
	}
	data, err := json.Marshal(exp)
	if err != nil {
		return []*ValidationError{errorf(phaseSemantic, "", "marshal for schema validation: %v", err)}
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return []*ValidationError{errorf(phaseSemantic, "", "unmarshal document: %v", err)}
	}

	err = sch.Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*sjsonschema.ValidationError)
	if !ok {
		return []*ValidationError{errorf(phaseSemantic, "", "%v", err)}
	}
	var errs []*ValidationError
	for _, cause := range flatten(ve) {
		errs = append(errs, errorf(phaseSemantic, strings.Join(cause.InstanceLocation, "/"), "%v", cause.ErrorKind))
	}
	return errs
}

func flatten(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flatten(cause)...)
	}
	return flat
}
