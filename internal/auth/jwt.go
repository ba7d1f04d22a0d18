package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are the access token claims issued by the auth provider. Subject is
// the user id; WalletAddress is the connected wallet, when there is one.
type Claims struct {
	WalletAddress string `json:"wallet_address,omitempty"`
	Email         string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Audience is the key realtime events are routed by: the wallet when the
// user has one, otherwise the subject.
func (c *Claims) Audience() string {
	if c.WalletAddress != "" {
		return strings.ToLower(c.WalletAddress)
	}
	return c.Subject
}

// GenerateJWT signs a token for subject. Used by local tooling and tests;
// production tokens come from the auth provider. A ttl <= 0 means 24h.
func GenerateJWT(secret, subject, wallet string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := Claims{
		WalletAddress: wallet,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "askgene",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseJWT(secret string, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
