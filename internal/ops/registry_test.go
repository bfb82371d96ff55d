package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflow-sh/reflow/pkg/schema"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(EchoOperation{}))

	op, err := reg.Get("EchoBubble")
	require.NoError(t, err)
	require.Equal(t, "EchoBubble", op.Name())
	require.True(t, reg.Has("EchoBubble"))
	require.Equal(t, 1, reg.Count())
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(EchoOperation{}))
	err := reg.Register(EchoOperation{})
	require.Error(t, err)
	ferr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	require.Equal(t, schema.ErrCodeConflict, ferr.Code)
}

func TestRegistryRejectsNil(t *testing.T) {
	reg := NewRegistry(nil)
	require.Error(t, reg.Register(nil))
}

func TestRegistryGetUnknown(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Get("NopeBubble")
	require.Error(t, err)
	require.False(t, reg.Has("NopeBubble"))
}

func TestRegistryListSortedWithCredentials(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(NewHTTPOperation()))
	require.NoError(t, reg.Register(EchoOperation{}))

	infos := reg.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "EchoBubble", infos[0].Name)
	assert.Equal(t, "HttpBubble", infos[1].Name)
	assert.Empty(t, infos[0].Credentials)
}

func TestCatalogDefaults(t *testing.T) {
	c := DefaultCatalog()

	require.Equal(t, []schema.CredentialType{schema.CredSlack}, c.RequiredFor("SlackBubble"))
	require.Empty(t, c.RequiredFor("EchoBubble"))
	require.Empty(t, c.RequiredFor("NeverHeardOfBubble"))

	require.True(t, c.IsAgent("AIAgentBubble"))
	require.False(t, c.IsAgent("SlackBubble"))

	require.Equal(t, []schema.CredentialType{schema.CredFirecrawl}, c.ToolCredentials("web-search"))
	require.Nil(t, c.ToolCredentials("unknown-tool"))

	bundle, ok := c.Capability("research")
	require.True(t, ok)
	require.Equal(t, []schema.CredentialType{schema.CredFirecrawl}, bundle.Required)
	require.Equal(t, []schema.CredentialType{schema.CredDatabase}, bundle.Optional)
	_, ok = c.Capability("does-not-exist")
	require.False(t, ok)
}

func TestCatalogProviderCredential(t *testing.T) {
	c := DefaultCatalog()

	cred, ok := c.ProviderCredential("openai/gpt-5")
	require.True(t, ok)
	require.Equal(t, schema.CredOpenAI, cred)

	cred, ok = c.ProviderCredential("anthropic/claude-sonnet")
	require.True(t, ok)
	require.Equal(t, schema.CredAnthropic, cred)

	_, ok = c.ProviderCredential("no-slash-model")
	require.False(t, ok)
	_, ok = c.ProviderCredential("/leading-slash")
	require.False(t, ok)
	_, ok = c.ProviderCredential("mistral/unknown-provider")
	require.False(t, ok)
}

func TestCatalogOverrides(t *testing.T) {
	c := NewCatalog()
	c.SetOperation("CustomBubble", schema.CredDatabase)
	c.SetTool("custom-tool", schema.CredResend)
	c.MarkAgent("CustomAgent")

	require.Equal(t, []schema.CredentialType{schema.CredDatabase}, c.RequiredFor("CustomBubble"))
	require.Equal(t, []schema.CredentialType{schema.CredResend}, c.ToolCredentials("custom-tool"))
	require.True(t, c.IsAgent("CustomAgent"))
}
