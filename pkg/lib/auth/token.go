package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier validates HS256 bearer tokens issued by the identity service.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses the token and maps its claims to a Principal.
func (v *TokenVerifier) Verify(tokenString string) (Principal, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("%w: invalid token", core.ErrUnauthorized)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, fmt.Errorf("%w: unexpected claims", core.ErrUnauthorized)
	}

	p := Principal{
		UserID:   claimString(claims, "userId"),
		Email:    claimString(claims, "email"),
		Role:     claimString(claims, "role"),
		FullName: claimString(claims, "fullName"),
		Token:    tokenString,
	}
	if p.UserID == "" {
		p.UserID = claimString(claims, "sub")
	}
	if p.UserID == "" {
		return Principal{}, errors.Join(core.ErrUnauthorized, errors.New("token has no subject"))
	}
	return p, nil
}

// userId may arrive as a JSON number or string depending on the issuer.
func claimString(claims jwt.MapClaims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// TokenIssuer mints short-lived tokens. Services use it for calls made
// without a caller, such as webhook processing.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

func (i *TokenIssuer) Issue(p Principal) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":    p.UserID,
		"userId": p.UserID,
		"email":  p.Email,
		"role":   p.Role,
		"iat":    now.Unix(),
		"exp":    now.Add(i.ttl).Unix(),
	}
	if p.FullName != "" {
		claims["fullName"] = p.FullName
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("cannot sign token: %w", err)
	}
	return signed, nil
}

// ServicePrincipal is an admin identity for the named service.
func ServicePrincipal(service string) Principal {
	return Principal{UserID: "svc:" + service, Email: service + "@internal", Role: RoleAdmin}
}
