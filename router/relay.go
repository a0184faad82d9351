package router

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidRelayBearer is returned when a relay proxy's bearer
// assertion fails signature verification, has expired, or does not
// name the configured proxy identity.
var ErrInvalidRelayBearer = errors.New("router: invalid relay bearer assertion")

type relayClaims struct {
	jwt.RegisteredClaims
}

// IssueRelayBearer mints a short-lived HMAC-signed bearer assertion a
// proxy identity presents when establishing the transport connection
// that precedes the localhost rewrite rule in applyRelayRewrite: the
// rewrite itself only ever trusts external_metadata.sender, so
// whatever terminates that connection must already have checked this
// token before wiring a peer up as relay.ProxyName.
func IssueRelayBearer(secret []byte, proxyName string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := relayClaims{jwt.RegisteredClaims{
		Subject:   proxyName,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("router: sign relay bearer: %w", err)
	}
	return signed, nil
}

// VerifyRelayBearer validates a bearer assertion against secret and
// returns the proxy name it was issued to.
func VerifyRelayBearer(tokenString string, secret []byte) (string, error) {
	var claims relayClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidRelayBearer, t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidRelayBearer, err)
	}
	return claims.Subject, nil
}

// VerifyRelayBearer checks token against r's configured relay secret
// and confirms it was issued to the configured proxy identity, for a
// transport to call before wiring a peer connection up as the trusted
// relay.ProxyName this router's applyRelayRewrite rule will trust.
func (r *Router) VerifyRelayBearer(token string) error {
	if len(r.relay.BearerSecret) == 0 {
		return fmt.Errorf("%w: no relay bearer secret configured", ErrInvalidRelayBearer)
	}
	proxyName, err := VerifyRelayBearer(token, r.relay.BearerSecret)
	if err != nil {
		return err
	}
	if proxyName != r.relay.ProxyName {
		return fmt.Errorf("%w: issued to %q, configured proxy is %q", ErrInvalidRelayBearer, proxyName, r.relay.ProxyName)
	}
	return nil
}
