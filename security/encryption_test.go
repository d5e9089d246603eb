package security

import (
	"encoding/base64"
	"encoding/hex"
	"testing"
)

var testKey = []byte("12345678901234567890123456789012")

func TestEncryptionManager_EncryptDecrypt(t *testing.T) {
	manager, err := CreateEncryptionManager(testKey)
	if err != nil {
		t.Fatalf("CreateEncryptionManager() error = %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{
			name:      "Simple text",
			plaintext: "Hello, World!",
		},
		{
			name:      "JSON data",
			plaintext: `{"productData":{"sku":"X1","id":7}}`,
		},
		{
			name:      "Empty string",
			plaintext: "",
		},
		{
			name:      "Exactly one block",
			plaintext: "0123456789abcdef",
		},
		{
			name:      "Special characters",
			plaintext: "!@#$%^&*()_+-=[]{}|;':\",./<>? ünïcödé",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := manager.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}

			raw, err := base64.StdEncoding.DecodeString(encrypted)
			if err != nil {
				t.Fatalf("Encrypt() output is not base64: %v", err)
			}
			if len(raw)%16 != 0 || len(raw) < 32 {
				t.Errorf("Encrypt() produced %d bytes, want IV plus whole blocks", len(raw))
			}

			decrypted, err := manager.Decrypt(encrypted)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if decrypted != tt.plaintext {
				t.Errorf("Decrypt() = %v, want %v", decrypted, tt.plaintext)
			}
		})
	}
}

func TestEncryptionManager_InvalidKey(t *testing.T) {
	if _, err := CreateEncryptionManager([]byte("short")); err == nil {
		t.Error("CreateEncryptionManager() expected error for short key")
	}
}

func TestEncryptionManager_DifferentKeys(t *testing.T) {
	manager1, err := CreateEncryptionManager([]byte("11111111111111111111111111111111"))
	if err != nil {
		t.Fatalf("CreateEncryptionManager() error = %v", err)
	}
	manager2, err := CreateEncryptionManager([]byte("22222222222222222222222222222222"))
	if err != nil {
		t.Fatalf("CreateEncryptionManager() error = %v", err)
	}

	encrypted, err := manager1.Encrypt("sensitive data")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if decrypted, err := manager2.Decrypt(encrypted); err == nil && decrypted == "sensitive data" {
		t.Error("Decrypt() with a different key recovered the plaintext")
	}
}

func TestEncryptionManager_InvalidCiphertext(t *testing.T) {
	manager, err := CreateEncryptionManager(testKey)
	if err != nil {
		t.Fatalf("CreateEncryptionManager() error = %v", err)
	}

	tests := []struct {
		name       string
		ciphertext string
	}{
		{"Empty string", ""},
		{"Too short", "c2hvcnQ="},
		{"Invalid base64", "not-valid-base64!@#$%"},
		{"IV only", base64.StdEncoding.EncodeToString(make([]byte, 16))},
		{"Not block aligned", base64.StdEncoding.EncodeToString(make([]byte, 40))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := manager.Decrypt(tt.ciphertext); err == nil {
				t.Error("Decrypt() expected error for invalid ciphertext")
			}
		})
	}
}

func TestEncryptionManager_UniqueIV(t *testing.T) {
	manager, err := CreateEncryptionManager(testKey)
	if err != nil {
		t.Fatalf("CreateEncryptionManager() error = %v", err)
	}

	encrypted1, err := manager.Encrypt("same text")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	encrypted2, err := manager.Encrypt("same text")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if encrypted1 == encrypted2 {
		t.Error("Encrypt() should produce different ciphertexts for same plaintext")
	}
}

func TestPKCS7Unpad(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{"valid", append([]byte("0123456789abc"), 3, 3, 3), false},
		{"full block", append([]byte("0123456789abcdef"), []byte{16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 16}...), false},
		{"zero pad byte", append([]byte("0123456789abcde"), 0), true},
		{"pad larger than block", append([]byte("0123456789abcde"), 17), true},
		{"inconsistent", append([]byte("0123456789abc"), 1, 2, 3), true},
		{"empty", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pkcs7Unpad(tt.data, 16)
			if (err != nil) != tt.wantErr {
				t.Errorf("pkcs7Unpad() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeKey(t *testing.T) {
	raw := []byte("abcdefghijklmnopqrstuvwxyz012345")

	tests := []struct {
		name    string
		in      string
		want    []byte
		wantErr bool
	}{
		{"hex", hex.EncodeToString(raw), raw, false},
		{"base64", base64.StdEncoding.EncodeToString(raw), raw, false},
		{"empty", "  ", nil, true},
		{"garbage", "not a key!", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeKey(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if string(got) != string(tt.want) {
				t.Errorf("DecodeKey() = %x, want %x", got, tt.want)
			}
		})
	}
}
