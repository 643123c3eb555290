package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/chataccess/pkg/auth"
	"github.com/angelmondragon/chataccess/pkg/config"
	"github.com/angelmondragon/chataccess/pkg/enums"
)

func setJWTEnv(t *testing.T) config.JWTConfig {
	t.Helper()
	t.Setenv("CHATACCESS_JWT_SECRET", "cli-secret")
	t.Setenv("CHATACCESS_JWT_ISSUER", "chataccess")
	t.Setenv("CHATACCESS_JWT_EXPIRATION_MINUTES", "60")
	return config.JWTConfig{Secret: "cli-secret", Issuer: "chataccess", ExpirationMinutes: 60}
}

func TestMintProducesParseableAdminToken(t *testing.T) {
	cfg := setJWTEnv(t)

	token, err := mint(time.Now(), "ops@example.com", "admin", "operator-7")
	require.NoError(t, err)

	claims, err := auth.ParseAccessToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, enums.RoleAdmin, claims.Role)
	assert.Equal(t, "operator-7", claims.ActorID)
}

func TestMintRejectsUnknownRole(t *testing.T) {
	setJWTEnv(t)

	_, err := mint(time.Now(), "ops@example.com", "root", "")
	require.Error(t, err)
}

func TestMintRequiresEmail(t *testing.T) {
	setJWTEnv(t)

	_, err := mint(time.Now(), " ", "admin", "")
	require.Error(t, err)
}
