package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflow/edgeflow/internal/workflow"
)

func TestNewEncryptionService(t *testing.T) {
	service := NewEncryptionService("test-password")
	assert.NotNil(t, service)
	assert.Equal(t, 32, len(service.masterKey)) // AES-256 requires 32-byte key
}

func TestEncryptionService_EncryptDecrypt(t *testing.T) {
	service := NewEncryptionService("test-password")

	tests := []struct {
		name      string
		plaintext string
	}{
		{"simple text", "Hello, World!"},
		{"empty string", ""},
		{"unicode text", "Hello, 世界! مرحبا!"},
		{"long text", strings.Repeat("This is a long text. ", 100)},
		{"special characters", "!@#$%^&*()_+-=[]{}|;':\",./<>?"},
		{"json", `{"key": "value", "number": 123}`},
		{"multiline", "Line 1\nLine 2\nLine 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := service.Encrypt(tt.plaintext)
			require.NoError(t, err)
			assert.NotEqual(t, tt.plaintext, encrypted)

			decrypted, err := service.Decrypt(encrypted)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, decrypted)
		})
	}
}

func TestEncryptionService_UniqueNonce(t *testing.T) {
	service := NewEncryptionService("test-password")
	plaintext := "Test message"

	encrypted1, err := service.Encrypt(plaintext)
	require.NoError(t, err)
	encrypted2, err := service.Encrypt(plaintext)
	require.NoError(t, err)

	assert.NotEqual(t, encrypted1, encrypted2)

	decrypted1, _ := service.Decrypt(encrypted1)
	decrypted2, _ := service.Decrypt(encrypted2)
	assert.Equal(t, plaintext, decrypted1)
	assert.Equal(t, plaintext, decrypted2)
}

func TestEncryptionService_DifferentKeys(t *testing.T) {
	service1 := NewEncryptionService("password1")
	service2 := NewEncryptionService("password2")

	encrypted, err := service1.Encrypt("Secret message")
	require.NoError(t, err)

	_, err = service1.Decrypt(encrypted)
	require.NoError(t, err)

	_, err = service2.Decrypt(encrypted)
	assert.Error(t, err)
}

func TestEncryptionService_Decrypt_InvalidCiphertext(t *testing.T) {
	service := NewEncryptionService("test-password")

	tests := []struct {
		name       string
		ciphertext string
	}{
		{"invalid base64", "not-valid-base64!@#"},
		{"too short", "YWJj"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Decrypt(tt.ciphertext)
			assert.Error(t, err)
		})
	}
}

func TestDecryptNodeParams(t *testing.T) {
	service := NewEncryptionService("test-password")

	password, err := service.Encrypt("s3cr3t")
	require.NoError(t, err)

	wf := &workflow.Workflow{
		Nodes: []workflow.Node{
			{
				ID: "db-1",
				Params: map[string]interface{}{
					"host": "localhost",
					"connection": map[string]interface{}{
						"password": EncryptedPrefix + password,
					},
					"tags": []interface{}{"prod", EncryptedPrefix + password},
				},
			},
		},
	}

	require.NoError(t, service.DecryptNodeParams(wf))

	conn := wf.Nodes[0].Params["connection"].(map[string]interface{})
	assert.Equal(t, "s3cr3t", conn["password"])
	assert.Equal(t, "localhost", wf.Nodes[0].Params["host"])

	tags := wf.Nodes[0].Params["tags"].([]interface{})
	assert.Equal(t, "s3cr3t", tags[1])
}

func TestDecryptNodeParams_NoSecrets(t *testing.T) {
	service := NewEncryptionService("test-password")

	wf := &workflow.Workflow{
		Nodes: []workflow.Node{
			{ID: "n1", Params: map[string]interface{}{"host": "localhost"}},
		},
	}

	require.NoError(t, service.DecryptNodeParams(wf))
	assert.Equal(t, "localhost", wf.Nodes[0].Params["host"])
}

func TestDecryptNodeParams_BadCiphertext(t *testing.T) {
	service := NewEncryptionService("test-password")

	wf := &workflow.Workflow{
		Nodes: []workflow.Node{
			{ID: "n1", Params: map[string]interface{}{"password": EncryptedPrefix + "not-valid"}},
		},
	}

	assert.Error(t, service.DecryptNodeParams(wf))
}

func BenchmarkEncrypt(b *testing.B) {
	service := NewEncryptionService("benchmark-password")
	plaintext := "Benchmark test message for encryption"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		service.Encrypt(plaintext)
	}
}

func BenchmarkDecrypt(b *testing.B) {
	service := NewEncryptionService("benchmark-password")
	plaintext := "Benchmark test message for encryption"
	encrypted, _ := service.Encrypt(plaintext)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		service.Decrypt(encrypted)
	}
}
