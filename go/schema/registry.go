// Package schema holds the process-wide registry of compiled JSON
// request schemas. The registry is built once at startup and passed to
// handlers explicitly.
package schema

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/oslokommune/data-uploader/go/uploader"
)

// Request schema names.
const (
	PushEventsRequest = "pushEventsRequest"
	SignedPostRequest = "signedPostRequest"
)

//go:embed models/*.json
var models embed.FS

// Registry holds compiled request schemas by name.
type Registry struct {
	schemas map[string]*jsonschema.Schema
}

// NewRegistry compiles the embedded request schemas.
func NewRegistry() (*Registry, error) {
	var compiler = jsonschema.NewCompiler()
	var names = []string{PushEventsRequest, SignedPostRequest}

	for _, name := range names {
		raw, err := models.ReadFile(fmt.Sprintf("models/%s.json", name))
		if err != nil {
			return nil, fmt.Errorf("reading schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parsing schema %s: %w", name, err)
		}
		if err = compiler.AddResource(name+".json", doc); err != nil {
			return nil, fmt.Errorf("adding schema %s: %w", name, err)
		}
	}

	var r = &Registry{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		compiled, err := compiler.Compile(name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compiling schema %s: %w", name, err)
		}
		r.schemas[name] = compiled
	}
	return r, nil
}

// Validate checks a request body against the named schema. Bodies which
// are not JSON fail InvalidJSON; conforming JSON which violates the
// schema fails SchemaViolation with the deepest cause.
func (r *Registry) Validate(name string, body []byte) error {
	var sch, ok = r.schemas[name]
	if !ok {
		return fmt.Errorf("unknown request schema %q", name)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return uploader.E(uploader.InvalidJSON, "Body is not a valid JSON document")
	}
	if err = sch.Validate(inst); err != nil {
		return uploader.E(uploader.SchemaViolation,
			"JSON document does not conform to the given schema: %s", leafCause(err))
	}
	return nil
}

// leafCause digs out the most specific validation failure.
func leafCause(err error) string {
	if verr, ok := err.(*jsonschema.ValidationError); ok {
		for len(verr.Causes) > 0 {
			verr = verr.Causes[0]
		}
		return verr.Error()
	}
	return err.Error()
}
