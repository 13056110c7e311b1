package server

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"pegvault/crypto"
)

func TestAuthenticatorResolvesCaller(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "pegvault", Audience: "vault"})
	require.NoError(t, err)
	caller := testAddress(crypto.AccountPrefix, 0x42)

	claims := jwt.RegisteredClaims{
		Subject:   caller.Hex(),
		Issuer:    "pegvault",
		Audience:  jwt.ClaimStrings{"vault"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	resolved, err := auth.Caller(token)
	require.NoError(t, err)
	require.True(t, resolved.Equal(caller))
}

func TestAuthenticatorRejects(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "pegvault"})
	require.NoError(t, err)
	caller := testAddress(crypto.AccountPrefix, 0x42)
	valid := jwt.NewNumericDate(time.Now().Add(time.Minute))

	cases := map[string]struct {
		claims jwt.RegisteredClaims
		method jwt.SigningMethod
		secret string
	}{
		"wrong issuer":  {jwt.RegisteredClaims{Subject: caller.String(), Issuer: "other", ExpiresAt: valid}, jwt.SigningMethodHS256, testSecret},
		"no expiry":     {jwt.RegisteredClaims{Subject: caller.String(), Issuer: "pegvault"}, jwt.SigningMethodHS256, testSecret},
		"wrong secret":  {jwt.RegisteredClaims{Subject: caller.String(), Issuer: "pegvault", ExpiresAt: valid}, jwt.SigningMethodHS256, "another-secret-another-secret-xx"},
		"bad subject":   {jwt.RegisteredClaims{Subject: "alice", Issuer: "pegvault", ExpiresAt: valid}, jwt.SigningMethodHS256, testSecret},
		"zero subject":  {jwt.RegisteredClaims{Subject: "0x0000000000000000000000000000000000000000", Issuer: "pegvault", ExpiresAt: valid}, jwt.SigningMethodHS256, testSecret},
		"expired token": {jwt.RegisteredClaims{Subject: caller.String(), Issuer: "pegvault", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}, jwt.SigningMethodHS256, testSecret},
	}
	for name, tc := range cases {
		token, err := jwt.NewWithClaims(tc.method, tc.claims).SignedString([]byte(tc.secret))
		require.NoError(t, err, name)
		_, err = auth.Caller(token)
		require.Error(t, err, name)
	}
}

func TestExtractBearer(t *testing.T) {
	require.Equal(t, "abc", extractBearer("Bearer abc"))
	require.Equal(t, "abc", extractBearer("bearer  abc "))
	require.Empty(t, extractBearer("Basic abc"))
	require.Empty(t, extractBearer(""))
}
