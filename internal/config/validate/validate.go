package validate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/remotes.schema.json
var remotesSchema []byte

//go:embed schema/universe.schema.json
var universeSchema []byte

// ValidateRemotesJSON validates a remotes document, already converted to
// JSON, against the embedded remotes schema.
func ValidateRemotesJSON(data []byte) error {
	return ValidateAgainstSchema("remotes.schema.json", remotesSchema, data, "")
}

// ValidateUniverseJSON validates a catalog document against the embedded
// universe schema.
func ValidateUniverseJSON(data []byte) error {
	return ValidateAgainstSchema("universe.schema.json", universeSchema, data, "")
}

// ValidateAgainstSchema compiles schema under name and validates data
// against it. ref optionally selects a sub-schema, e.g. "#/$defs/cookbooks".
func ValidateAgainstSchema(name string, schema []byte, data []byte, ref string) error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(name, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("loading schema %s: %w", name, err)
	}

	sch, err := compiler.Compile(name + ref)
	if err != nil {
		return fmt.Errorf("compiling schema %s%s: %w", name, ref, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%s: invalid JSON: %w", name, err)
	}
	if dec.More() {
		return fmt.Errorf("%s: invalid JSON: trailing data after document", name)
	}

	if err := sch.Validate(doc); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return fmt.Errorf("%s validation failed: %s", name, describe(verr))
		}
		return fmt.Errorf("%s validation failed: %w", name, err)
	}
	return nil
}

// describe flattens the deepest causes into one line with their instance
// locations.
func describe(verr *jsonschema.ValidationError) string {
	var leaves []*jsonschema.ValidationError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			leaves = append(leaves, e)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)

	var buf bytes.Buffer
	for i, l := range leaves {
		if i > 0 {
			buf.WriteString("; ")
		}
		loc := l.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		fmt.Fprintf(&buf, "at %s: %s", loc, l.Message)
	}
	return buf.String()
}
