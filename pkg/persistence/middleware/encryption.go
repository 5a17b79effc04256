package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/ports"
)

const envelopeKey = "__encrypted__"

// ErrNotEncrypted is returned when a stored record lacks an encrypted envelope.
var ErrNotEncrypted = errors.New("record is missing encrypted data envelope")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.Store
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals item payloads and
// auxiliary maps, and run auxiliary maps, with AES-GCM.
// Identifiers, statuses, positions and timestamps stay in clear so stores
// can still filter on them.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.Store) ports.Store {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) SaveRun(ctx context.Context, run *domain.Run) error {
	sealed := *run
	aux, err := m.seal(run.Auxiliary)
	if err != nil {
		return fmt.Errorf("failed to encrypt run: %w", err)
	}
	sealed.Auxiliary = aux
	return m.next.SaveRun(ctx, &sealed)
}

func (m *encryptionMiddleware) LoadRun(ctx context.Context, id string) (*domain.Run, error) {
	run, err := m.next.LoadRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.openRun(run)
}

func (m *encryptionMiddleware) ListRuns(ctx context.Context, filter ports.RunFilter) ([]*domain.Run, error) {
	runs, err := m.next.ListRuns(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i, run := range runs {
		if runs[i], err = m.openRun(run); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (m *encryptionMiddleware) DeleteRun(ctx context.Context, id string) error {
	return m.next.DeleteRun(ctx, id)
}

func (m *encryptionMiddleware) SaveItem(ctx context.Context, item *domain.Item) error {
	sealed := *item
	var err error
	if sealed.Payload, err = m.seal(item.Payload); err != nil {
		return fmt.Errorf("failed to encrypt item payload: %w", err)
	}
	if sealed.Auxiliary, err = m.seal(item.Auxiliary); err != nil {
		return fmt.Errorf("failed to encrypt item auxiliary data: %w", err)
	}
	if err := m.next.SaveItem(ctx, &sealed); err != nil {
		return err
	}
	item.ID = sealed.ID
	return nil
}

func (m *encryptionMiddleware) LoadItem(ctx context.Context, id int64) (*domain.Item, error) {
	item, err := m.next.LoadItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.openItem(item)
}

func (m *encryptionMiddleware) ListItems(ctx context.Context, filter ports.ItemFilter) ([]*domain.Item, error) {
	items, err := m.next.ListItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i, item := range items {
		if items[i], err = m.openItem(item); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (m *encryptionMiddleware) DeleteItem(ctx context.Context, id int64, hard bool) error {
	return m.next.DeleteItem(ctx, id, hard)
}

func (m *encryptionMiddleware) Atomic(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) error {
	return m.next.Atomic(ctx, func(ctx context.Context, tx ports.Store) error {
		return fn(ctx, &encryptionMiddleware{next: tx, config: m.config})
	})
}

func (m *encryptionMiddleware) openRun(run *domain.Run) (*domain.Run, error) {
	aux, err := m.open(run.Auxiliary)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt run %s: %w", run.ID, err)
	}
	run.Auxiliary = aux
	return run, nil
}

func (m *encryptionMiddleware) openItem(item *domain.Item) (*domain.Item, error) {
	var err error
	if item.Payload, err = m.open(item.Payload); err != nil {
		return nil, fmt.Errorf("failed to decrypt item %d payload: %w", item.ID, err)
	}
	if item.Auxiliary, err = m.open(item.Auxiliary); err != nil {
		return nil, fmt.Errorf("failed to decrypt item %d auxiliary data: %w", item.ID, err)
	}
	return item, nil
}

// seal replaces a map with an opaque envelope.
func (m *encryptionMiddleware) seal(data map[string]any) (map[string]any, error) {
	plainText, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		envelopeKey: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

func (m *encryptionMiddleware) open(envelope map[string]any) (map[string]any, error) {
	encryptedStr, ok := envelope[envelopeKey].(string)
	if !ok {
		return nil, ErrNotEncrypted
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := json.Unmarshal(plainText, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted data: %w", err)
	}
	if out == nil {
		out = make(map[string]any)
	}
	return out, nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertextBytes := ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertextBytes, nil)
}
