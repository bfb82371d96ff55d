package script

import (
	"encoding/json"
	"strconv"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// PayloadShape derives a JSON-Schema document describing the entry method's
// single input parameter: property names, primitive types, required-ness,
// and default values. Callers use it to validate or synthesize trigger
// payloads.
func (fs *FlowScript) PayloadShape() (map[string]any, error) {
	meth := fs.module.Method(EntryMethod)
	if meth == nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "flow declares no %s method", EntryMethod)
	}
	if len(meth.Params) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}

	param := meth.Params[0]
	ref := param.Type
	if ref != nil && ref.Name != "" && ref.Members == nil {
		// named type: resolve against a module-level interface declaration
		if resolved := fs.findInterface(ref.Name); resolved != nil {
			ref = &TypeRef{Members: resolved.Members}
		}
	}

	doc := map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
	if ref == nil {
		return doc, nil
	}

	defaults := defaultValues(param.Default)

	props := doc["properties"].(map[string]any)
	var required []string
	for _, m := range ref.Members {
		prop := typeRefToSchema(m.Type)
		if dv, ok := defaults[m.Name]; ok {
			prop["default"] = dv
		}
		props[m.Name] = prop
		if !m.Optional {
			required = append(required, m.Name)
		}
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc, nil
}

// CompilePayloadSchema compiles the derived payload shape for validation.
func (fs *FlowScript) CompilePayloadSchema() (*jsonschema.Schema, error) {
	doc, err := fs.PayloadShape()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "serialize payload shape").WithCause(err)
	}
	val, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "decode payload shape").WithCause(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("payload.json", val); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "register payload schema").WithCause(err)
	}
	compiled, err := c.Compile("payload.json")
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "compile payload schema").WithCause(err)
	}
	return compiled, nil
}

// SynthesizePayload builds a payload from the shape's declared defaults.
func (fs *FlowScript) SynthesizePayload() (map[string]any, error) {
	doc, err := fs.PayloadShape()
	if err != nil {
		return nil, err
	}
	payload := map[string]any{}
	props, _ := doc["properties"].(map[string]any)
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if dv, ok := prop["default"]; ok {
			payload[name] = dv
		}
	}
	return payload, nil
}

func (fs *FlowScript) findInterface(name string) *InterfaceDecl {
	for _, st := range fs.module.Stmts {
		if d, ok := st.(*InterfaceDecl); ok && d.Name == name {
			return d
		}
	}
	return nil
}

func typeRefToSchema(ref *TypeRef) map[string]any {
	if ref == nil {
		return map[string]any{}
	}
	switch {
	case ref.Members != nil:
		props := map[string]any{}
		var required []string
		for _, m := range ref.Members {
			props[m.Name] = typeRefToSchema(m.Type)
			if !m.Optional {
				required = append(required, m.Name)
			}
		}
		out := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			out["required"] = required
		}
		return out
	case ref.Name == "string":
		return map[string]any{"type": "string"}
	case ref.Name == "number":
		return map[string]any{"type": "number"}
	case ref.Name == "boolean":
		return map[string]any{"type": "boolean"}
	case ref.Name == "array":
		inner := typeRefToSchema(ref.Elem)
		return map[string]any{"type": "array", "items": inner}
	default:
		// named or unknown types validate as unconstrained objects
		return map[string]any{}
	}
}

// defaultValues extracts literal property defaults from a default-parameter
// object literal (`payload: Input = { limit: 10 }`).
func defaultValues(x Expr) map[string]any {
	out := map[string]any{}
	obj, ok := x.(*ObjectLit)
	if !ok {
		return out
	}
	for _, prop := range obj.Props {
		if prop.Spread {
			continue
		}
		switch v := prop.Value.(type) {
		case *StringLit:
			out[prop.Key] = v.Value
		case *NumberLit:
			if f, err := strconv.ParseFloat(v.Raw, 64); err == nil {
				out[prop.Key] = f
			}
		case *BoolLit:
			out[prop.Key] = v.Value
		case *NullLit:
			out[prop.Key] = nil
		}
	}
	return out
}
