package mcp

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// genaiType maps a JSON Schema type name onto the genai schema type.
// Gemini has no integer type; integers ride as numbers.
func genaiType(name string) (genai.Type, error) {
	switch name {
	case "object":
		return genai.TypeObject, nil
	case "array":
		return genai.TypeArray, nil
	case "string":
		return genai.TypeString, nil
	case "number", "integer":
		return genai.TypeNumber, nil
	case "boolean":
		return genai.TypeBoolean, nil
	case "":
		return genai.TypeUnspecified, nil
	default:
		return genai.TypeUnspecified, goerr.New("unsupported schema type", goerr.V("type", name))
	}
}

// toGenaiSchema recursively translates the subset of JSON Schema that MCP
// tools use into the Gemini function-declaration schema. Keywords outside
// that subset (oneOf, pattern, ...) are silently dropped.
func toGenaiSchema(src *jsonschema.Schema) (*genai.Schema, error) {
	if src == nil {
		return nil, nil
	}

	typ, err := genaiType(src.Type)
	if err != nil {
		return nil, err
	}
	dst := &genai.Schema{
		Type:        typ,
		Description: src.Description,
		Required:    src.Required,
	}

	for _, v := range src.Enum {
		if s, ok := v.(string); ok {
			dst.Enum = append(dst.Enum, s)
		}
	}

	if len(src.Properties) > 0 {
		dst.Properties = make(map[string]*genai.Schema, len(src.Properties))
		for name, prop := range src.Properties {
			conv, err := toGenaiSchema(prop)
			if err != nil {
				return nil, goerr.Wrap(err, "bad property schema", goerr.V("property", name))
			}
			dst.Properties[name] = conv
		}
	}

	if src.Items != nil {
		if dst.Items, err = toGenaiSchema(src.Items); err != nil {
			return nil, goerr.Wrap(err, "bad items schema")
		}
	}

	return dst, nil
}
