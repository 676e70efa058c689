package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_TrustingModeAcceptsAnything(t *testing.T) {
	v := NewVerifier("")
	assert.False(t, v.Enabled())
	assert.NoError(t, v.Verify("", "u1"))
	assert.NoError(t, v.Verify("garbage", "u1"))
}

func TestVerifier_MintAndVerify(t *testing.T) {
	v := NewVerifier("sekrit")
	require.True(t, v.Enabled())

	token, err := v.Mint("u1", time.Minute)
	require.NoError(t, err)

	assert.NoError(t, v.Verify(token, "u1"))
}

func TestVerifier_RejectsMissingToken(t *testing.T) {
	v := NewVerifier("sekrit")
	assert.Error(t, v.Verify("", "u1"))
}

func TestVerifier_RejectsSubjectMismatch(t *testing.T) {
	v := NewVerifier("sekrit")
	token, err := v.Mint("u1", time.Minute)
	require.NoError(t, err)

	assert.Error(t, v.Verify(token, "u2"), "a token for one identity cannot assert another")
}

func TestVerifier_RejectsWrongSecret(t *testing.T) {
	other := NewVerifier("other-secret")
	token, err := other.Mint("u1", time.Minute)
	require.NoError(t, err)

	v := NewVerifier("sekrit")
	assert.Error(t, v.Verify(token, "u1"))
}

func TestVerifier_RejectsExpiredToken(t *testing.T) {
	v := NewVerifier("sekrit")
	token, err := v.Mint("u1", -time.Minute)
	require.NoError(t, err)

	assert.Error(t, v.Verify(token, "u1"))
}

func TestVerifier_RejectsUnsignedAlgorithm(t *testing.T) {
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1"})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	v := NewVerifier("sekrit")
	assert.Error(t, v.Verify(token, "u1"))
}

func TestVerifier_MintRequiresSecret(t *testing.T) {
	v := NewVerifier("")
	_, err := v.Mint("u1", time.Minute)
	assert.Error(t, err)
}
