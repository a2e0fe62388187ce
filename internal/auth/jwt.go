package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrUnauthenticated covers every reason a token cannot be used: bad
// signature, wrong issuer, expiry, or a server-side entry that is gone.
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims is the admin token payload.
type Claims struct {
	AdminID int64 `json:"aid"`
	jwt.RegisteredClaims
}

// Token is a signed admin token and the id it was issued under.
type Token struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

// Issue signs an HS256 admin token with a fresh jti.
func Issue(adminID int64, username, issuer, key string, ttl time.Duration, now time.Time) (Token, error) {
	exp := now.Add(ttl)
	claims := Claims{
		AdminID: adminID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return Token{}, fmt.Errorf("sign admin token: %w", err)
	}
	return Token{Value: signed, ID: claims.ID, ExpiresAt: exp}, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(key), nil
	}, opts...)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ID == "" {
		return Claims{}, ErrUnauthenticated
	}
	return *claims, nil
}
