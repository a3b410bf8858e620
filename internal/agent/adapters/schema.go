package adapters

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validateAgainstSchema checks that response is a JSON document matching the
// given JSON schema.
func validateAgainstSchema(response string, schema []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schema)))
	if err != nil {
		return fmt.Errorf("invalid output schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("output.json", doc); err != nil {
		return fmt.Errorf("invalid output schema: %w", err)
	}
	compiled, err := compiler.Compile("output.json")
	if err != nil {
		return fmt.Errorf("invalid output schema: %w", err)
	}

	value, err := jsonschema.UnmarshalJSON(strings.NewReader(response))
	if err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("response does not match output schema: %w", err)
	}
	return nil
}
