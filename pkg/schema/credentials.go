package schema

// CredentialType tags a category of secret (a messaging token, a database
// connection string, a model provider key).
type CredentialType string

// Built-in credential types understood by the default catalog. The catalog
// itself is extensible; these are the tags used by the stock operations.
const (
	CredOpenAI     CredentialType = "OPENAI_CRED"
	CredAnthropic  CredentialType = "ANTHROPIC_CRED"
	CredGemini     CredentialType = "GOOGLE_GEMINI_CRED"
	CredSlack      CredentialType = "SLACK_CRED"
	CredDatabase   CredentialType = "DATABASE_CRED"
	CredResend     CredentialType = "RESEND_CRED"
	CredFirecrawl  CredentialType = "FIRECRAWL_CRED"
	CredHTTPBearer CredentialType = "HTTP_BEARER_CRED"
)

// CredentialRequirement is the set of secret types one operation instance
// needs, keyed result of a requirement scan.
type CredentialRequirement struct {
	OpID     int              `json:"op_id"`
	OpType   string           `json:"op_type"`
	Required []CredentialType `json:"required"`
}

// UserCredential is a caller-supplied secret scoped to a single operation
// instance. User values always win over system values.
type UserCredential struct {
	OpID  int            `json:"op_id"`
	Type  CredentialType `json:"type"`
	Value string         `json:"-"` // never serialized
}

// InjectedCredentialRecord is the audit form of one injected secret. Only the
// masked value is ever carried here; the plaintext lives solely in the
// rewritten source.
type InjectedCredentialRecord struct {
	OpID   int            `json:"op_id"`
	OpType string         `json:"op_type"`
	Type   CredentialType `json:"type"`
	Masked string         `json:"masked"`
	Source string         `json:"source"` // "user" or "system"
}

// InjectionReport is the structured outcome of a credential-injection pass.
// Errors are accumulated, not thrown: a caller always receives the full
// picture even when some operations are left without required secrets.
type InjectionReport struct {
	Records []InjectedCredentialRecord `json:"records"`
	Errors  []string                   `json:"errors,omitempty"`
}

// OK reports whether the pass completed without accumulated errors.
func (r *InjectionReport) OK() bool { return len(r.Errors) == 0 }

// CapabilityBundle is a named, reusable bundle of tools with a declared
// credential requirement set, attachable to an AI-agent-shaped operation.
type CapabilityBundle struct {
	ID       string           `json:"id"`
	Required []CredentialType `json:"required"`
	Optional []CredentialType `json:"optional,omitempty"`
}
