package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// ReflectSchema generates a JSON schema for a tool's parameter struct from
// its json and jsonschema struct tags. Definitions are inlined so the result
// can be advertised to LLM providers as-is.
func ReflectSchema(params any) json.RawMessage {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(params)
	schema.Version = ""

	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
