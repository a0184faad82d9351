package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayBearerRoundTrip(t *testing.T) {
	secret := []byte("test-relay-secret")

	token, err := IssueRelayBearer(secret, "proxy.shinkai", time.Minute)
	require.NoError(t, err)

	subject, err := VerifyRelayBearer(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "proxy.shinkai", subject)
}

func TestRelayBearerRejectsWrongSecret(t *testing.T) {
	token, err := IssueRelayBearer([]byte("secret-a"), "proxy.shinkai", time.Minute)
	require.NoError(t, err)

	_, err = VerifyRelayBearer(token, []byte("secret-b"))
	assert.ErrorIs(t, err, ErrInvalidRelayBearer)
}

func TestRelayBearerRejectsExpired(t *testing.T) {
	secret := []byte("test-relay-secret")
	token, err := IssueRelayBearer(secret, "proxy.shinkai", -time.Minute)
	require.NoError(t, err)

	_, err = VerifyRelayBearer(token, secret)
	assert.ErrorIs(t, err, ErrInvalidRelayBearer)
}

func TestRouterVerifyRelayBearer(t *testing.T) {
	secret := []byte("test-relay-secret")
	r := &Router{relay: RelayConfig{ProxyName: "proxy.shinkai", BearerSecret: secret}}

	token, err := IssueRelayBearer(secret, "proxy.shinkai", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, r.VerifyRelayBearer(token))

	wrongProxy, err := IssueRelayBearer(secret, "other.shinkai", time.Minute)
	require.NoError(t, err)
	assert.Error(t, r.VerifyRelayBearer(wrongProxy))
}
