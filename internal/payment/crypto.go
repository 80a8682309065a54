package payment

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/noah-isme/backend-booking/internal/common"
)

// arbIV is the fixed initialisation vector published by the ARB gateway.
var arbIV = []byte("PGKEYENCDECIVSPC")

var (
	upperHexPattern = regexp.MustCompile(`^[0-9A-F]+$`)
	hexKeyPattern   = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

// Key format labels reported by diagnostics.
const (
	KeyFormatHex64   = "hex-64"
	KeyFormatRawUTF8 = "raw-utf8"
)

// ComputeRequestHash signs an outbound URWAY request.
func ComputeRequestHash(trackID, terminalID, password, secretKey, amount, currency string) string {
	return common.Sha256Hex(strings.Join([]string{trackID, terminalID, password, secretKey, amount, currency}, "|"))
}

// ComputeResponseHash recomputes the hash URWAY attaches to callbacks.
func ComputeResponseHash(tranID, secretKey, responseCode, amount string) string {
	return common.Sha256Hex(strings.Join([]string{tranID, secretKey, responseCode, amount}, "|"))
}

// VerifyResponseHash compares a supplied response hash in constant time. The
// hex digest is compared case-insensitively.
func VerifyResponseHash(tranID, secretKey, responseCode, amount, supplied string) bool {
	supplied = strings.ToLower(strings.TrimSpace(supplied))
	if supplied == "" {
		return false
	}
	return common.EqualConstantTime(ComputeResponseHash(tranID, secretKey, responseCode, amount), supplied)
}

// KeyFormat reports how a resource key is turned into AES key bytes.
func KeyFormat(resourceKey string) string {
	if hexKeyPattern.MatchString(strings.TrimSpace(resourceKey)) {
		return KeyFormatHex64
	}
	return KeyFormatRawUTF8
}

// deriveKey returns the 32-byte AES key for a configured resource key.
func deriveKey(resourceKey string) []byte {
	trimmed := strings.TrimSpace(resourceKey)
	if hexKeyPattern.MatchString(trimmed) {
		key, err := hex.DecodeString(trimmed)
		if err == nil {
			return key
		}
	}
	key := make([]byte, 32)
	copy(key, resourceKey)
	return key
}

// EncryptTransaction percent-encodes plaintext, encrypts it with AES-256-CBC
// and returns upper-case hex.
func EncryptTransaction(plaintext, resourceKey string) (string, error) {
	if resourceKey == "" {
		return "", &ConfigurationError{Vendor: VendorARB, Field: "resource key"}
	}
	block, err := aes.NewCipher(deriveKey(resourceKey))
	if err != nil {
		return "", &EncodingError{Reason: "cipher", Err: err}
	}
	padded := padPKCS7([]byte(encodeURIComponent(plaintext)), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, arbIV).CryptBlocks(ciphertext, padded)
	out := strings.ToUpper(hex.EncodeToString(ciphertext))
	if !upperHexPattern.MatchString(out) {
		return "", &EncodingError{Reason: "ciphertext is not upper-case hex"}
	}
	return out, nil
}

// DecryptTransaction reverses EncryptTransaction.
func DecryptTransaction(hexText, resourceKey string) (string, error) {
	if resourceKey == "" {
		return "", &ConfigurationError{Vendor: VendorARB, Field: "resource key"}
	}
	ciphertext, err := hex.DecodeString(strings.TrimSpace(hexText))
	if err != nil {
		return "", &EncodingError{Reason: "ciphertext hex decode", Err: err}
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", &EncodingError{Reason: "ciphertext length invalid or not multiple of block size"}
	}
	block, err := aes.NewCipher(deriveKey(resourceKey))
	if err != nil {
		return "", &EncodingError{Reason: "cipher", Err: err}
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, arbIV).CryptBlocks(plain, ciphertext)
	plain, err = removePKCS7Padding(plain, aes.BlockSize)
	if err != nil {
		return "", &EncodingError{Reason: "padding", Err: err}
	}
	decoded, err := url.PathUnescape(string(plain))
	if err != nil {
		return "", &EncodingError{Reason: "percent decode", Err: err}
	}
	return decoded, nil
}

// encodeURIComponent escapes everything except A-Z a-z 0-9 - _ . ! ~ * ' ( ).
func encodeURIComponent(s string) string {
	escaped := url.QueryEscape(s)
	return strings.NewReplacer(
		"+", "%20",
		"%21", "!",
		"%27", "'",
		"%28", "(",
		"%29", ")",
		"%2A", "*",
		"%7E", "~",
	).Replace(escaped)
}

func padPKCS7(b []byte, blockSize int) []byte {
	padding := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func removePKCS7Padding(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padding := int(b[len(b)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("invalid padding size %d", padding)
	}
	for _, v := range b[len(b)-padding:] {
		if int(v) != padding {
			return nil, errors.New("invalid PKCS7 padding bytes")
		}
	}
	return b[:len(b)-padding], nil
}
