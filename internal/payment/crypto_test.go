package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestComputeRequestHashIsPipeJoinedSHA256(t *testing.T) {
	got := ComputeRequestHash("TRK1", "T001", "pass", "secret", "100.00", "SAR")
	require.Equal(t, sha256Hex("TRK1|T001|pass|secret|100.00|SAR"), got)
	require.Equal(t, got, ComputeRequestHash("TRK1", "T001", "pass", "secret", "100.00", "SAR"))
	require.Regexp(t, `^[0-9a-f]{64}$`, got)
}

func TestComputeRequestHashChangesWithAnyField(t *testing.T) {
	base := []string{"TRK1", "T001", "pass", "secret", "100.00", "SAR"}
	want := ComputeRequestHash(base[0], base[1], base[2], base[3], base[4], base[5])
	for i := range base {
		fields := append([]string(nil), base...)
		fields[i] = fields[i] + " "
		got := ComputeRequestHash(fields[0], fields[1], fields[2], fields[3], fields[4], fields[5])
		require.NotEqual(t, want, got, "field %d", i)
	}
}

func TestComputeResponseHashOrder(t *testing.T) {
	got := ComputeResponseHash("TRAN9", "secret", "000", "250.00")
	require.Equal(t, sha256Hex("TRAN9|secret|000|250.00"), got)
	require.NotEqual(t, got, ComputeResponseHash("TRAN9", "secret", "000", "250.0"))
	require.NotEqual(t, got, ComputeResponseHash("secret", "TRAN9", "000", "250.00"))
}

func TestVerifyResponseHash(t *testing.T) {
	hash := ComputeResponseHash("TRAN9", "secret", "000", "250.00")
	require.True(t, VerifyResponseHash("TRAN9", "secret", "000", "250.00", hash))
	require.True(t, VerifyResponseHash("TRAN9", "secret", "000", "250.00", strings.ToUpper(hash)))
	require.False(t, VerifyResponseHash("TRAN9", "secret", "000", "250.01", hash))
	require.False(t, VerifyResponseHash("TRAN9", "secret", "000", "250.00", ""))
}

var upperHex = regexp.MustCompile(`^[0-9A-F]+$`)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	keys := []string{
		"short-key",
		"exactly-thirty-two-bytes-long!!!",
		"a-resource-key-that-is-much-longer-than-thirty-two-bytes",
		strings.Repeat("ab", 32),
	}
	plaintexts := []string{
		"",
		"a",
		`[{"id":"T1","amt":"250.00","trackId":"BK-1001"}]`,
		"spaces and + plus & amp = eq / slash ? q % pct",
		"unicode: مرحبا ✓ 日本",
		"!'()*~-_.",
		strings.Repeat("x", 257),
	}
	for _, key := range keys {
		for _, p := range plaintexts {
			enc, err := EncryptTransaction(p, key)
			require.NoError(t, err)
			require.Regexp(t, upperHex, enc)
			require.Zero(t, len(enc)%32, "ciphertext must be whole AES blocks")

			dec, err := DecryptTransaction(enc, key)
			require.NoError(t, err)
			require.Equal(t, p, dec)
		}
	}
}

func TestEncryptIsDeterministic(t *testing.T) {
	a, err := EncryptTransaction("payload", "key")
	require.NoError(t, err)
	b, err := EncryptTransaction("payload", "key")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := EncryptTransaction("payload", "other-key")
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestDeriveKey(t *testing.T) {
	hexKey := strings.Repeat("0f", 32)
	key := deriveKey(hexKey)
	require.Len(t, key, 32)
	require.Equal(t, byte(0x0f), key[0])
	require.Equal(t, KeyFormatHex64, KeyFormat(hexKey))

	raw := deriveKey("abc")
	require.Len(t, raw, 32)
	require.Equal(t, []byte("abc"), raw[:3])
	require.Equal(t, make([]byte, 29), raw[3:])
	require.Equal(t, KeyFormatRawUTF8, KeyFormat("abc"))

	long := deriveKey(strings.Repeat("k", 40))
	require.Equal(t, []byte(strings.Repeat("k", 32)), long)

	// 64 characters that are not all hex fall back to raw bytes.
	notHex := strings.Repeat("zz", 32)
	require.Equal(t, KeyFormatRawUTF8, KeyFormat(notHex))
	require.Equal(t, []byte(notHex[:32]), deriveKey(notHex))
}

func TestEncodeURIComponent(t *testing.T) {
	require.Equal(t, "a%20b%2Bc%26d%3De", encodeURIComponent("a b+c&d=e"))
	require.Equal(t, "!'()*~-_.", encodeURIComponent("!'()*~-_."))
	require.Equal(t, "%7B%22k%22%3A%22v%22%7D", encodeURIComponent(`{"k":"v"}`))
}

func TestDecryptRejectsBadInput(t *testing.T) {
	_, err := DecryptTransaction("not-hex", "key")
	var encErr *EncodingError
	require.True(t, errors.As(err, &encErr))

	_, err = DecryptTransaction("ABCD", "key")
	require.True(t, errors.As(err, &encErr))

	enc, err := EncryptTransaction("payload", "key")
	require.NoError(t, err)
	if dec, err := DecryptTransaction(enc, "wrong"); err == nil {
		require.NotEqual(t, "payload", dec)
	}
}

func TestEncryptRequiresKey(t *testing.T) {
	_, err := EncryptTransaction("payload", "")
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
}
