package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL bounds the lifetime of minted push channel tokens.
const DefaultTokenTTL = 2 * time.Minute

// Claims are the claims of a minted token.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// KeyProvider mints a short-lived RS256 token on every Token call, so a
// reconnect after a long backoff never presents an expired credential.
type KeyProvider struct {
	keyID   string
	subject string
	issuer  string
	ttl     time.Duration
	key     *rsa.PrivateKey
	now     func() time.Time
}

// KeyProviderConfig configures a KeyProvider.
type KeyProviderConfig struct {
	KeyID   string // "kid" header
	Subject string // user the token speaks for
	Issuer  string
	TTL     time.Duration // DefaultTokenTTL when zero
}

// NewKeyProvider creates a provider signing with key.
func NewKeyProvider(cfg KeyProviderConfig, key *rsa.PrivateKey) (*KeyProvider, error) {
	if key == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if cfg.Subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &KeyProvider{
		keyID:   cfg.KeyID,
		subject: cfg.Subject,
		issuer:  cfg.Issuer,
		ttl:     ttl,
		key:     key,
		now:     time.Now,
	}, nil
}

func (p *KeyProvider) IsAuthenticated() bool { return true }

// Token mints a fresh signed token.
func (p *KeyProvider) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := p.now()
	claims := Claims{
		Scope: "sync",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   p.subject,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if p.keyID != "" {
		token.Header["kid"] = p.keyID
	}

	signed, err := token.SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses a token minted by a KeyProvider holding the matching
// private key.
func VerifyToken(tokenString string, pub *rsa.PublicKey) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return pub, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
