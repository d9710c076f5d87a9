package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SecretStore = (*SecretRepo)(nil)

const (
	keySize  = 32
	hkdfSalt = "notionwidgets/secret-store"
	hkdfInfo = "aes-256-gcm v1"
)

// SecretRepo is the SQLite implementation of the SecretStore port interface.
// Secrets are encrypted with AES-256-GCM before write and decrypted after read.
type SecretRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil when encryption is disabled.
	now func() time.Time
}

// NewSecretRepo creates a new SecretRepo. key must be 32 bytes for AES-256-GCM,
// or nil to disable secret storage (reads and writes return ErrEncryptionKeyNotSet).
func NewSecretRepo(db *DB, key []byte) *SecretRepo {
	return &SecretRepo{db: db, key: key, now: time.Now}
}

// DeriveKey turns the configured secret key into a 32-byte AES key. A standard
// base64 encoding of exactly 32 bytes is used as-is; any other non-empty
// passphrase is stretched with HKDF-SHA256. An empty input returns nil.
func DeriveKey(configured string) ([]byte, error) {
	configured = strings.TrimSpace(configured)
	if configured == "" {
		return nil, nil
	}

	if raw, err := base64.StdEncoding.DecodeString(configured); err == nil && len(raw) == keySize {
		return raw, nil
	}

	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(configured), []byte(hkdfSalt), []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Put stores or replaces the secret for the given credential id.
func (r *SecretRepo) Put(ctx context.Context, id, secret string) error {
	encrypted, err := r.encrypt(secret)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO secrets (id, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	_, err = r.db.Writer.ExecContext(ctx, query, id, encrypted, formatTime(r.now()))
	if err != nil {
		return fmt.Errorf("put secret %q: %w", id, err)
	}
	return nil
}

// Get retrieves the plaintext secret for the given id.
// Returns ("", nil) if no secret exists for that id.
func (r *SecretRepo) Get(ctx context.Context, id string) (string, error) {
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	const query = `SELECT value FROM secrets WHERE id = ?`
	var encrypted string
	err := r.db.Reader.QueryRowContext(ctx, query, id).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get secret %q: %w", id, err)
	}

	plaintext, err := r.decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypt secret %q: %w", id, err)
	}
	return plaintext, nil
}

// Delete removes the secret for the given id.
func (r *SecretRepo) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM secrets WHERE id = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete secret %q: %w", id, err)
	}
	return nil
}

// ListIDs returns the ids of all stored secrets, ordered.
func (r *SecretRepo) ListIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT id FROM secrets ORDER BY id`
	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan secret id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate secrets: %w", err)
	}

	return ids, nil
}

// encrypt encrypts plaintext using AES-256-GCM and returns a base64-encoded string
// containing the nonce (12 bytes) prepended to the ciphertext.
func (r *SecretRepo) encrypt(plaintext string) (string, error) {
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	gcm, err := r.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *SecretRepo) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	gcm, err := r.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}

func (r *SecretRepo) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}
