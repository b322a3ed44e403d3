package services

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserService_JWTRoundTrip(t *testing.T) {
	svc := NewUserService(nil, "test-secret")

	token, err := svc.GenerateJWT("u1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := svc.ValidateJWT(token)
	require.NoError(t, err)
	require.Equal(t, "u1", userID)
}

func TestUserService_ValidateJWT_WrongSecret(t *testing.T) {
	svc := NewUserService(nil, "test-secret")
	token, err := svc.GenerateJWT("u1")
	require.NoError(t, err)

	other := NewUserService(nil, "other-secret")
	_, err = other.ValidateJWT(token)
	require.Error(t, err)
}

func TestUserService_ValidateJWT_Garbage(t *testing.T) {
	svc := NewUserService(nil, "test-secret")
	_, err := svc.ValidateJWT("not-a-token")
	require.Error(t, err)
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		code := generateCode()
		require.Len(t, code, codeLength)
		for _, c := range code {
			require.Contains(t, codeChars, string(c))
		}
		seen[code] = struct{}{}
	}
	require.Greater(t, len(seen), 1, "codes should not all collide")
}
