// Package credinject resolves and injects operation credentials into flow
// scripts: it scans every operation instance for required secret types,
// merges user- and system-supplied values, and rewrites the source so each
// instance literally carries its resolved secrets while every other
// instance's span stays fixed.
package credinject

import (
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/reflow-sh/reflow/internal/ops"
	"github.com/reflow-sh/reflow/internal/script"
	"github.com/reflow-sh/reflow/pkg/schema"
)

// Injector performs requirement scans and credential-injection rewrites
// against a flow script.
type Injector struct {
	catalog *ops.Catalog
}

// NewInjector creates an Injector backed by the given credential catalog.
func NewInjector(catalog *ops.Catalog) *Injector {
	if catalog == nil {
		catalog = ops.DefaultCatalog()
	}
	return &Injector{catalog: catalog}
}

// FindRequiredCredentials unions, per operation instance: the static
// requirement table for its type; for AI-agent-shaped operations, the
// requirements contributed by each tools entry and each attached capability
// bundle (required and optional sets); and a requirement inferred from a
// literal provider-prefixed model parameter. Instances with zero required
// types are omitted.
func (inj *Injector) FindRequiredCredentials(fs *script.FlowScript) []schema.CredentialRequirement {
	var out []schema.CredentialRequirement
	for _, inst := range fs.Instances() {
		required := inj.requirementsFor(inst)
		if len(required) == 0 {
			continue
		}
		out = append(out, schema.CredentialRequirement{
			OpID:     inst.ID,
			OpType:   inst.TypeName,
			Required: required,
		})
	}
	return out
}

func (inj *Injector) requirementsFor(inst *schema.OperationInstance) []schema.CredentialType {
	set := newCredSet()
	set.add(inj.catalog.RequiredFor(inst.TypeName)...)

	if inj.catalog.IsAgent(inst.TypeName) {
		if p := inst.Parameter("tools"); p != nil {
			for _, tool := range parseToolNames(p.Value) {
				set.add(inj.catalog.ToolCredentials(tool)...)
			}
		}
		if p := inst.Parameter("capabilities"); p != nil {
			for _, id := range parseStringList(p.Value) {
				if bundle, ok := inj.catalog.Capability(id); ok {
					set.add(bundle.Required...)
					set.add(bundle.Optional...)
				}
			}
		}
		if p := inst.Parameter("model"); p != nil {
			if model, ok := literalModelName(p.Value); ok {
				if cred, found := inj.catalog.ProviderCredential(model); found {
					set.add(cred)
				}
			}
			// dynamic model expressions contribute no inferred credential
		}
	}
	return set.ordered()
}

// parseToolNames extracts tool names from a tools parameter value. A valid
// structural literal is preferred; malformed values fall back to relaxed
// JSON coercion, and values that still fail to parse are silently ignored.
func parseToolNames(raw string) []string {
	if names, ok := toolNamesFromLiteral(raw); ok {
		return names
	}
	return toolNamesRelaxed(raw)
}

func toolNamesFromLiteral(raw string) ([]string, bool) {
	x, err := script.ParseExpr(raw)
	if err != nil {
		return nil, false
	}
	arr, ok := x.(*script.ArrayLit)
	if !ok {
		return nil, false
	}
	var names []string
	for _, el := range arr.Elems {
		switch e := el.(type) {
		case *script.ObjectLit:
			for _, prop := range e.Props {
				if prop.Key != "name" {
					continue
				}
				if lit, ok := prop.Value.(*script.StringLit); ok {
					names = append(names, lit.Value)
				}
			}
		case *script.StringLit:
			names = append(names, e.Value)
		}
	}
	return names, true
}

// toolNamesRelaxed coerces single-quoted, bare-keyed pseudo-JSON into a
// parseable form and reads it leniently with gjson.
func toolNamesRelaxed(raw string) []string {
	coerced := strings.ReplaceAll(raw, "'", `"`)
	parsed := gjson.Parse(coerced)
	if !parsed.IsArray() {
		return nil
	}
	var names []string
	for _, el := range parsed.Array() {
		if el.Type == gjson.String {
			names = append(names, el.String())
			continue
		}
		if name := el.Get("name"); name.Exists() {
			names = append(names, name.String())
		}
	}
	return names
}

// parseStringList reads a capability list: an array of string literals.
func parseStringList(raw string) []string {
	x, err := script.ParseExpr(raw)
	if err != nil {
		return nil
	}
	arr, ok := x.(*script.ArrayLit)
	if !ok {
		return nil
	}
	var out []string
	for _, el := range arr.Elems {
		if lit, ok := el.(*script.StringLit); ok {
			out = append(out, lit.Value)
		}
	}
	return out
}

// literalModelName extracts a model name when the parameter is a plain
// string literal or a simple object literal containing one. Anything else
// (a fully dynamic expression) yields no inference.
func literalModelName(raw string) (string, bool) {
	x, err := script.ParseExpr(raw)
	if err != nil {
		return "", false
	}
	switch e := x.(type) {
	case *script.StringLit:
		return e.Value, true
	case *script.ObjectLit:
		for _, prop := range e.Props {
			if prop.Key != "model" {
				continue
			}
			if lit, ok := prop.Value.(*script.StringLit); ok {
				return lit.Value, true
			}
		}
	}
	return "", false
}

// credSet is an insertion-ordered credential type set.
type credSet struct {
	seen  map[schema.CredentialType]bool
	order []schema.CredentialType
}

func newCredSet() *credSet {
	return &credSet{seen: make(map[schema.CredentialType]bool)}
}

func (s *credSet) add(creds ...schema.CredentialType) {
	for _, c := range creds {
		if c == "" || s.seen[c] {
			continue
		}
		s.seen[c] = true
		s.order = append(s.order, c)
	}
}

func (s *credSet) ordered() []schema.CredentialType {
	out := make([]schema.CredentialType, len(s.order))
	copy(out, s.order)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
