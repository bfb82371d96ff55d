package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/reflow-sh/reflow/pkg/schema"
)

const (
	// Credential values are sealed with AES-256-GCM, so the cipher key is
	// always 32 bytes regardless of how it was obtained.
	vaultKeyLen = 32

	defaultKDFRounds = 100_000
)

// VaultConfig selects how the vault cipher key is obtained. A raw MasterKey
// wins when both are set; otherwise the key is derived from Passphrase and
// Salt with PBKDF2-SHA256.
type VaultConfig struct {
	MasterKey  []byte
	Passphrase string
	Salt       []byte
	Iterations int // PBKDF2 rounds, defaultKDFRounds when zero
}

// cipherKey resolves the config to the 32-byte AES key.
func (cfg VaultConfig) cipherKey() ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != vaultKeyLen {
			return nil, schema.NewErrorf(schema.ErrCodeVault,
				"master key must be %d bytes, got %d", vaultKeyLen, len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if cfg.Passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeVault, "either master_key or passphrase is required")
	}
	if len(cfg.Salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeVault, "salt is required with passphrase")
	}
	rounds := cfg.Iterations
	if rounds <= 0 {
		rounds = defaultKDFRounds
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, rounds, vaultKeyLen)
}

// AESVault is the system credential vault. Plaintext credential values only
// exist in memory during injection; what reaches the SecretStore is always a
// sealed blob of nonce followed by ciphertext.
type AESVault struct {
	backing SecretStore
	sealer  cipher.AEAD
}

// NewAESVault wraps a SecretStore with AES-256-GCM sealing.
func NewAESVault(backing SecretStore, cfg VaultConfig) (*AESVault, error) {
	key, err := cfg.cipherKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	sealer, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESVault{backing: backing, sealer: sealer}, nil
}

// Store seals a credential value under a fresh random nonce and persists it.
// Repeated writes of the same plaintext produce distinct blobs.
func (v *AESVault) Store(ctx context.Context, key string, value []byte) error {
	nonce := make([]byte, v.sealer.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	return v.backing.StoreSecret(ctx, key, v.sealer.Seal(nonce, nonce, value, nil))
}

// Resolve loads and unseals a credential value.
func (v *AESVault) Resolve(ctx context.Context, key string) ([]byte, error) {
	blob, err := v.backing.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}
	nsz := v.sealer.NonceSize()
	if len(blob) < nsz {
		return nil, schema.NewError(schema.ErrCodeVault, "ciphertext too short")
	}
	value, err := v.sealer.Open(nil, blob[:nsz], blob[nsz:], nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "decrypt failed: %s", err.Error())
	}
	return value, nil
}

// Delete removes a credential from the backing store.
func (v *AESVault) Delete(ctx context.Context, key string) error {
	return v.backing.DeleteSecret(ctx, key)
}

// List returns the stored credential keys. Values are never listed.
func (v *AESVault) List(ctx context.Context) ([]string, error) {
	return v.backing.ListSecrets(ctx)
}
