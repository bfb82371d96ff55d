package credinject

import (
	"sort"
	"strings"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// renderInstantiation re-renders one operation instance as a normalized
// instantiation carrying the resolved credentials: single-line when no
// parameter value contains a function literal, multi-line otherwise.
//
// Spread preservation: a sole variable parameter marked as the operation's
// entire first argument rewrites to an object-spread of that variable plus
// an explicit credentials property. A variable bound to one named property
// is never spread.
func renderInstantiation(inst *schema.OperationInstance, resolved map[schema.CredentialType]string) string {
	credText := renderCredentialsObject(resolved)

	if len(inst.Parameters) == 1 &&
		inst.Parameters[0].Kind == schema.ParamVariable &&
		inst.Parameters[0].Provenance == schema.ProvenanceEntireArgument {
		return "new " + inst.TypeName + "({ ..." + inst.Parameters[0].Value +
			", credentials: " + credText + " })"
	}

	var fields []string
	for _, p := range inst.Parameters {
		if p.Name == "credentials" && p.Provenance == schema.ProvenanceNamed {
			continue // superseded by the resolved map
		}
		switch p.Provenance {
		case schema.ProvenanceObjectSpread:
			fields = append(fields, "..."+p.Value)
		default:
			fields = append(fields, p.Name+": "+p.Value)
		}
	}
	fields = append(fields, "credentials: "+credText)

	if !hasFunctionLiteral(inst.Parameters) {
		return "new " + inst.TypeName + "({ " + strings.Join(fields, ", ") + " })"
	}

	indent := strings.Repeat(" ", maxInt(inst.Span.StartCol-1, 0))
	var b strings.Builder
	b.WriteString("new " + inst.TypeName + "({\n")
	for _, f := range fields {
		b.WriteString(indent + "  " + f + ",\n")
	}
	b.WriteString(indent + "})")
	return b.String()
}

// renderCredentialsObject serializes the resolved map as source-level object
// syntax with escaped string values, keys sorted for determinism.
func renderCredentialsObject(resolved map[schema.CredentialType]string) string {
	keys := make([]string, 0, len(resolved))
	for k := range resolved {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": '"+escapeSingleQuoted(resolved[schema.CredentialType(k)])+"'")
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

// escapeSingleQuoted escapes a value for safe embedding in a single-quoted
// source string literal.
func escapeSingleQuoted(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func hasFunctionLiteral(params []schema.Parameter) bool {
	for _, p := range params {
		if strings.Contains(p.Value, "=>") {
			return true
		}
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
