// Package identity turns bearer credentials into verified actors. Wallet
// signature verification happens in the external login service; what
// arrives here is the session token that service minted, and this package
// only checks it and extracts the attested address and role.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/crowdstaking-org/crowdstaking-platform-sub001/pkg/domain"
)

var ErrUnauthorized = errors.New("unauthorized")

const issuer = "crowdstaking-login"

// Verifier validates HS256 session tokens shared-secret signed by the
// login service.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) *Verifier { return &Verifier{secret: secret} }

type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// VerifyBearer parses an Authorization header value and returns the actor
// the token attests. Any parse, signature, expiry, or issuer problem maps
// to ErrUnauthorized; callers never see jwt internals.
func (v *Verifier) VerifyBearer(authorization string) (domain.Actor, error) {
	raw, ok := parseBearerToken(authorization)
	if !ok {
		return domain.Actor{}, ErrUnauthorized
	}
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrUnauthorized
	}
	address := strings.TrimSpace(claims.Subject)
	if address == "" {
		return domain.Actor{}, ErrUnauthorized
	}
	role := domain.Role(claims.Role)
	if role != domain.RoleAdmin && role != domain.RoleContributor {
		return domain.Actor{}, ErrUnauthorized
	}
	return domain.Actor{Address: address, Role: role}, nil
}

func parseBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
