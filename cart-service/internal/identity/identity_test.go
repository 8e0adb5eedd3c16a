package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnerKey(t *testing.T) {
	assert.Equal(t, "customer:c1", Owner{CustomerID: "c1", SessionID: "s1"}.Key())
	assert.Equal(t, "session:s1", Owner{SessionID: "s1"}.Key())
	assert.True(t, Owner{}.IsZero())
	assert.False(t, Owner{SessionID: "s1"}.IsCustomer())
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	_, ok = FromContext(WithOwner(context.Background(), Owner{}))
	assert.False(t, ok)

	o, ok := FromContext(WithOwner(context.Background(), Owner{SessionID: "s1"}))
	require.True(t, ok)
	assert.Equal(t, "s1", o.SessionID)
}

func TestSignAndVerify(t *testing.T) {
	v := NewTokenVerifier("secret")
	token, err := v.Sign("cust-42", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "cust-42", id)
}

func TestVerify_WrongSecret(t *testing.T) {
	token, err := NewTokenVerifier("secret").Sign("cust-42", time.Hour)
	require.NoError(t, err)

	_, err = NewTokenVerifier("other").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Expired(t *testing.T) {
	v := NewTokenVerifier("secret")
	v.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := v.Sign("cust-42", time.Hour)
	require.NoError(t, err)

	_, err = NewTokenVerifier("secret").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: "cust-42"})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewTokenVerifier("secret").Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_MissingSubject(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewTokenVerifier("secret").Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
