package message

import "encoding/json"

// SchemaType is a JSON Schema primitive type for tool parameters.
type SchemaType string

// SchemaType constants. These are the only types a tool parameter may use.
const (
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeBoolean SchemaType = "boolean"
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
	TypeNull    SchemaType = "null"
)

// Schema is a restricted JSON Schema describing tool parameters.
type Schema struct {
	Type        SchemaType         `json:"type"`
	Description string             `json:"description,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// ToolDefinition describes a tool the model may invoke. Name must be unique
// within a request.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  Schema `json:"parameters"`
}

// ParametersJSON returns the parameter schema serialized as JSON Schema text.
// A zero-value schema serializes as an empty object schema, which every
// backend accepts for no-argument tools.
func (d ToolDefinition) ParametersJSON() json.RawMessage {
	params := d.Parameters
	if params.Type == "" {
		params.Type = TypeObject
	}
	data, err := json.Marshal(params)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}

// ObjectSchema builds an object schema from properties and a required list.
func ObjectSchema(props map[string]*Schema, required ...string) Schema {
	return Schema{Type: TypeObject, Properties: props, Required: required}
}

// StringSchema builds a string property schema, optionally enum-restricted.
func StringSchema(description string, enum ...string) *Schema {
	return &Schema{Type: TypeString, Description: description, Enum: enum}
}

// NumberSchema builds a number property schema.
func NumberSchema(description string) *Schema {
	return &Schema{Type: TypeNumber, Description: description}
}

// BoolSchema builds a boolean property schema.
func BoolSchema(description string) *Schema {
	return &Schema{Type: TypeBoolean, Description: description}
}

// ArraySchema builds an array property schema with the given item schema.
func ArraySchema(description string, items *Schema) *Schema {
	return &Schema{Type: TypeArray, Description: description, Items: items}
}
