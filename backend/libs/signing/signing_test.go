package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignDeterministic(t *testing.T) {
	body := []byte(`{"type":"entry","vehicle_id":"AB123CD"}`)

	first := Sign("secret", body)
	second := Sign("secret", body)

	require.Len(t, first, 64)
	assert.Equal(t, first, second)
}

func TestVerify(t *testing.T) {
	body := []byte(`{"type":"entry","vehicle_id":"AB123CD"}`)
	sig := Sign("secret", body)

	assert.True(t, Verify("secret", body, sig))
	assert.False(t, Verify("other-secret", body, sig), "wrong secret must fail")
	assert.False(t, Verify("secret", []byte(`tampered`), sig), "tampered body must fail")
	assert.False(t, Verify("secret", body, ""), "empty signature must fail")
}
