package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/malwarebo/partnersync/models"
)

var (
	ErrVerificationFailed = errors.New("webhook verification failed")
	ErrSignatureMismatch  = errors.New("signature mismatch")
	ErrDecryptionFailed   = errors.New("payload decryption failed")
)

type WebhookVerifier struct {
	hmacKey []byte
	cipher  *EncryptionManager
}

func CreateWebhookVerifier(hmacKey []byte, cipher *EncryptionManager) (*WebhookVerifier, error) {
	if len(hmacKey) == 0 {
		return nil, fmt.Errorf("hmac key is required")
	}
	if cipher == nil {
		return nil, fmt.Errorf("encryption manager is required")
	}
	return &WebhookVerifier{hmacKey: hmacKey, cipher: cipher}, nil
}

// SignedContent is the exact byte sequence the partner signs: guid, type and
// the Base64 ciphertext concatenated without separators.
func SignedContent(env models.WebhookEnvelope) []byte {
	return []byte(env.GUID + env.WebhookType + env.WebhookData)
}

func (v *WebhookVerifier) mac(env models.WebhookEnvelope) []byte {
	m := hmac.New(sha256.New, v.hmacKey)
	m.Write(SignedContent(env))
	return m.Sum(nil)
}

// Sign returns the hex encoded HMAC-SHA256 for env.
func (v *WebhookVerifier) Sign(env models.WebhookEnvelope) string {
	return hex.EncodeToString(v.mac(env))
}

// Verify compares the header text with the canonical lowercase hex or
// standard Base64 encoding of the MAC. Any other spelling, including
// uppercase hex, is rejected.
func (v *WebhookVerifier) Verify(env models.WebhookEnvelope, signature string) bool {
	expected := v.mac(env)
	got := []byte(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))

	hexOK := hmac.Equal(got, []byte(hex.EncodeToString(expected)))
	b64OK := hmac.Equal(got, []byte(base64.StdEncoding.EncodeToString(expected)))
	return hexOK || b64OK
}

// Open verifies and decrypts, reporting which step failed. Callers facing the
// network must collapse both causes into ErrVerificationFailed.
func (v *WebhookVerifier) Open(env models.WebhookEnvelope, signature string) (string, error) {
	if !v.Verify(env, signature) {
		return "", ErrSignatureMismatch
	}
	plaintext, err := v.cipher.Decrypt(env.WebhookData)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func (v *WebhookVerifier) VerifyAndDecrypt(env models.WebhookEnvelope, signature string) (string, bool) {
	plaintext, err := v.Open(env, signature)
	if err != nil {
		return "", false
	}
	return plaintext, true
}

// Seal encrypts plaintext into a signed envelope. It mirrors what the partner
// does and is used by tooling and tests.
func (v *WebhookVerifier) Seal(guid, webhookType, plaintext string) (models.WebhookEnvelope, string, error) {
	data, err := v.cipher.Encrypt(plaintext)
	if err != nil {
		return models.WebhookEnvelope{}, "", err
	}
	env := models.WebhookEnvelope{GUID: guid, WebhookType: webhookType, WebhookData: data}
	return env, v.Sign(env), nil
}
