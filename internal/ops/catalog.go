package ops

import (
	"strings"
	"sync"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// Catalog is the credential registry contract the injector consumes: which
// secret types an operation type needs, what each tool and capability bundle
// contributes, and which model providers map to which credential tag.
type Catalog struct {
	mu           sync.RWMutex
	byOperation  map[string][]schema.CredentialType
	byTool       map[string][]schema.CredentialType
	capabilities map[string]schema.CapabilityBundle
	byProvider   map[string]schema.CredentialType
	agentTypes   map[string]bool
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		byOperation:  make(map[string][]schema.CredentialType),
		byTool:       make(map[string][]schema.CredentialType),
		capabilities: make(map[string]schema.CapabilityBundle),
		byProvider:   make(map[string]schema.CredentialType),
		agentTypes:   make(map[string]bool),
	}
}

// DefaultCatalog returns a catalog preloaded with the stock operation set.
func DefaultCatalog() *Catalog {
	c := NewCatalog()

	c.SetOperation("SlackBubble", schema.CredSlack)
	c.SetOperation("SlackWorkflow", schema.CredSlack)
	c.SetOperation("PostgresBubble", schema.CredDatabase)
	c.SetOperation("ResendBubble", schema.CredResend)
	c.SetOperation("WebScrapeBubble", schema.CredFirecrawl)
	c.SetOperation("HttpBubble")
	c.SetOperation("EchoBubble")
	c.SetOperation("AIAgentBubble")
	c.MarkAgent("AIAgentBubble")

	c.SetTool("web-search", schema.CredFirecrawl)
	c.SetTool("web-scrape", schema.CredFirecrawl)
	c.SetTool("sql-query", schema.CredDatabase)
	c.SetTool("slack-notify", schema.CredSlack)

	c.SetCapability(schema.CapabilityBundle{
		ID:       "research",
		Required: []schema.CredentialType{schema.CredFirecrawl},
		Optional: []schema.CredentialType{schema.CredDatabase},
	})
	c.SetCapability(schema.CapabilityBundle{
		ID:       "messaging",
		Required: []schema.CredentialType{schema.CredSlack},
		Optional: []schema.CredentialType{schema.CredResend},
	})

	c.SetProvider("openai", schema.CredOpenAI)
	c.SetProvider("anthropic", schema.CredAnthropic)
	c.SetProvider("google", schema.CredGemini)

	return c
}

// SetOperation registers the static credential requirements of an operation
// type. Zero types is valid (credential-free operation).
func (c *Catalog) SetOperation(typeName string, creds ...schema.CredentialType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byOperation[typeName] = creds
}

// SetTool registers the credential requirements a tool contributes to an
// agent operation.
func (c *Catalog) SetTool(name string, creds ...schema.CredentialType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byTool[name] = creds
}

// SetCapability registers a capability bundle.
func (c *Catalog) SetCapability(b schema.CapabilityBundle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capabilities[b.ID] = b
}

// SetProvider maps a model provider prefix to its credential tag.
func (c *Catalog) SetProvider(prefix string, cred schema.CredentialType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byProvider[prefix] = cred
}

// MarkAgent flags an operation type as AI-agent shaped, enabling dynamic
// tool/capability/model inspection during requirement scans.
func (c *Catalog) MarkAgent(typeName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentTypes[typeName] = true
}

// RequiredFor returns the static requirements of an operation type.
func (c *Catalog) RequiredFor(typeName string) []schema.CredentialType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byOperation[typeName]
}

// ToolCredentials returns the requirements contributed by a tool, or nil.
func (c *Catalog) ToolCredentials(name string) []schema.CredentialType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byTool[name]
}

// Capability returns the named capability bundle.
func (c *Catalog) Capability(id string) (schema.CapabilityBundle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.capabilities[id]
	return b, ok
}

// IsAgent reports whether the operation type is AI-agent shaped.
func (c *Catalog) IsAgent(typeName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agentTypes[typeName]
}

// ProviderCredential infers a credential tag from a `provider/model-name`
// literal. Returns false when no provider prefix matches.
func (c *Catalog) ProviderCredential(model string) (schema.CredentialType, bool) {
	idx := strings.IndexByte(model, '/')
	if idx <= 0 {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	cred, ok := c.byProvider[model[:idx]]
	return cred, ok
}
