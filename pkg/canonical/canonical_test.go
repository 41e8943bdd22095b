package canonical

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalKeyOrderIndependent(t *testing.T) {
	a, err := Marshal(map[string]interface{}{"b": 1, "a": 2})
	require.NoError(t, err)
	b, err := Marshal(map[string]interface{}{"a": 2, "b": 1})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, `{"a":2,"b":1}`, string(a))
}

func TestMarshalNestedAndNoWhitespace(t *testing.T) {
	got, err := Marshal(map[string]interface{}{
		"items":         []map[string]interface{}{{"sku": "SKU-1", "quantity": 50}},
		"from_kiosk_id": "kiosk-a",
	})
	require.NoError(t, err)

	assert.Equal(t, `{"from_kiosk_id":"kiosk-a","items":[{"quantity":50,"sku":"SKU-1"}]}`, string(got))
}

func TestHashStable(t *testing.T) {
	h1, err := Hash(map[string]interface{}{"x": 1, "y": "z"})
	require.NoError(t, err)
	h2, err := Hash(map[string]interface{}{"y": "z", "x": 1})
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "equivalent payloads must hash identically")
	assert.Len(t, h1, 32)
}

func TestVerifySignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	message, err := Marshal(map[string]interface{}{"from_kiosk_id": "a", "to_kiosk_id": "b"})
	require.NoError(t, err)
	sig := ed25519.Sign(priv, message)

	assert.True(t, VerifySignature(message, sig, pub))

	flipped := append([]byte(nil), message...)
	flipped[0] ^= 0x01
	assert.False(t, VerifySignature(flipped, sig, pub), "tampered message accepted")

	badSig := append([]byte(nil), sig...)
	badSig[10] ^= 0x01
	assert.False(t, VerifySignature(message, badSig, pub), "tampered signature accepted")

	assert.False(t, VerifySignature(message, sig, pub[:16]), "short public key accepted")
	assert.False(t, VerifySignature(message, sig[:32], pub), "short signature accepted")
}
