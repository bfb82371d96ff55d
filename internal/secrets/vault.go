package secrets

import (
	"context"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// Vault resolves system-level credentials at injection time. Values are
// encrypted at rest (AES-256-GCM) and resolved in-memory only; nothing in
// this package ever logs a plaintext.
type Vault interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// SecretStore is the minimal persistence interface needed by the vault.
// Satisfied by store.Store.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}

// SystemCredentials resolves every stored secret whose key is a credential
// type tag, producing the system-level credential set the injector merges
// beneath user-supplied values.
func SystemCredentials(ctx context.Context, v Vault) (map[schema.CredentialType]string, error) {
	if v == nil {
		return nil, nil
	}
	keys, err := v.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[schema.CredentialType]string, len(keys))
	for _, key := range keys {
		val, err := v.Resolve(ctx, key)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeVault,
				"resolve system credential %s: %s", key, err.Error()).WithCause(err)
		}
		out[schema.CredentialType(key)] = string(val)
	}
	return out, nil
}
