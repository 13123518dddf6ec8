package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100000
)

// EncryptedFileStore implements BundleStore using an AES-GCM encrypted file.
// The key derives from a passphrase via PBKDF2.
type EncryptedFileStore struct {
	filepath   string
	passphrase string
	mu         sync.RWMutex
}

// encryptedFile is the on-disk envelope.
type encryptedFile struct {
	Salt      string `json:"salt"`
	Encrypted string `json:"encrypted"`
}

// NewEncryptedFileStore creates a new encrypted file-based bundle store
func NewEncryptedFileStore(filePath string) (*EncryptedFileStore, error) {
	if dir := filepath.Dir(filePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	return &EncryptedFileStore{
		filepath:   filePath,
		passphrase: resolvePassphrase(),
	}, nil
}

// resolvePassphrase prefers an explicit passphrase; otherwise it derives one
// from the hostname so unattended runs still work, at reduced strength.
func resolvePassphrase() string {
	if p := os.Getenv("FANVAULT_VAULT_PASSPHRASE"); p != "" {
		return p
	}
	host, err := os.Hostname()
	if err != nil {
		host = "fanvault-local"
	}
	return "fanvault:" + host
}

// Store saves the bundle to the encrypted file
func (e *EncryptedFileStore) Store(bundle *SessionBundle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if bundle == nil || bundle.Profile == "" {
		return ErrInvalidBundle
	}

	bundles, err := e.loadAll()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load existing bundles: %w", err)
	}
	if bundles == nil {
		bundles = make(map[string]SessionBundle)
	}
	bundles[bundle.Profile] = *bundle

	return e.saveAll(bundles)
}

// Retrieve gets the bundle from the encrypted file
func (e *EncryptedFileStore) Retrieve(profile string) (*SessionBundle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	bundles, err := e.loadAll()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, profile)
		}
		return nil, err
	}
	bundle, ok := bundles[profile]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, profile)
	}
	return &bundle, nil
}

// List returns all stored profile names
func (e *EncryptedFileStore) List() ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	bundles, err := e.loadAll()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	profiles := make([]string, 0, len(bundles))
	for name := range bundles {
		profiles = append(profiles, name)
	}
	return profiles, nil
}

// Delete removes the bundle from the encrypted file
func (e *EncryptedFileStore) Delete(profile string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	bundles, err := e.loadAll()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBundleNotFound, profile)
	}
	if _, ok := bundles[profile]; !ok {
		return fmt.Errorf("%w: %s", ErrBundleNotFound, profile)
	}
	delete(bundles, profile)
	return e.saveAll(bundles)
}

func (e *EncryptedFileStore) loadAll() (map[string]SessionBundle, error) {
	raw, err := os.ReadFile(e.filepath)
	if err != nil {
		return nil, err
	}

	var envelope encryptedFile
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse store file: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(envelope.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(envelope.Encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	plaintext, err := e.decrypt(ciphertext, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt store: %w", err)
	}

	var bundles map[string]SessionBundle
	if err := json.Unmarshal(plaintext, &bundles); err != nil {
		return nil, fmt.Errorf("failed to parse decrypted store: %w", err)
	}
	return bundles, nil
}

func (e *EncryptedFileStore) saveAll(bundles map[string]SessionBundle) error {
	plaintext, err := json.Marshal(bundles)
	if err != nil {
		return fmt.Errorf("failed to marshal bundles: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	ciphertext, err := e.encrypt(plaintext, salt)
	if err != nil {
		return fmt.Errorf("failed to encrypt store: %w", err)
	}

	envelope := encryptedFile{
		Salt:      base64.StdEncoding.EncodeToString(salt),
		Encrypted: base64.StdEncoding.EncodeToString(ciphertext),
	}
	data, err := json.Marshal(&envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	tmp := e.filepath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmp, e.filepath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

func (e *EncryptedFileStore) deriveKey(salt []byte) []byte {
	return pbkdf2.Key([]byte(e.passphrase), salt, iterations, keySize, sha256.New)
}

func (e *EncryptedFileStore) encrypt(plaintext, salt []byte) ([]byte, error) {
	block, err := aes.NewCipher(e.deriveKey(salt))
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

func (e *EncryptedFileStore) decrypt(ciphertext, salt []byte) ([]byte, error) {
	block, err := aes.NewCipher(e.deriveKey(salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, payload := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, payload, nil)
}
