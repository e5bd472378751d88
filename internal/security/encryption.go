// Package security protects secret values — database passwords, MQTT
// credentials, API tokens — that live inline in a workflow document's
// node params or in the execution config. Workflow JSON is treated as
// semi-trusted (it can come from a shared library or an external
// collaborator tool), so secrets in it are stored encrypted and
// decrypted only in memory, right before a node runs.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/edgeflow/edgeflow/internal/workflow"
)

// EncryptedPrefix marks a node param string value as ciphertext rather
// than a literal. A database node's "password": "enc:AhR3..." param is
// decrypted before the node executor ever sees it.
const EncryptedPrefix = "enc:"

// EncryptionService encrypts and decrypts string values with AES-256-GCM,
// deriving its key from a master passphrase via PBKDF2.
type EncryptionService struct {
	masterKey []byte
}

// NewEncryptionService derives a 256-bit key from password.
func NewEncryptionService(password string) *EncryptionService {
	salt := []byte("edgeflow-salt-change-in-production")
	key := pbkdf2.Key([]byte(password), salt, 100000, 32, sha256.New)
	return &EncryptionService{masterKey: key}
}

// Encrypt returns plaintext sealed under AES-GCM, base64-encoded with a
// random nonce prepended.
func (s *EncryptionService) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt.
func (s *EncryptionService) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// DecryptNodeParams walks every node's params in place, replacing any
// string value carrying EncryptedPrefix with its decrypted plaintext.
// Nested maps and slices are walked too, since a node's params can hold
// arbitrary JSON shapes (e.g. a database node's "connection": {"password":
// "enc:..."}).
func (s *EncryptionService) DecryptNodeParams(wf *workflow.Workflow) error {
	for i := range wf.Nodes {
		decrypted, err := s.decryptValue(wf.Nodes[i].Params)
		if err != nil {
			return fmt.Errorf("decrypt params for node %s: %w", wf.Nodes[i].ID, err)
		}
		wf.Nodes[i].Params, _ = decrypted.(map[string]interface{})
	}
	return nil
}

func (s *EncryptionService) decryptValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, EncryptedPrefix) {
			return s.Decrypt(strings.TrimPrefix(val, EncryptedPrefix))
		}
		return val, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, elem := range val {
			dec, err := s.decryptValue(elem)
			if err != nil {
				return nil, err
			}
			out[k] = dec
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			dec, err := s.decryptValue(elem)
			if err != nil {
				return nil, err
			}
			out[i] = dec
		}
		return out, nil
	default:
		return val, nil
	}
}
