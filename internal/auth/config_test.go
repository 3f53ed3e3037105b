package auth

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/rickgao/vehicle-sync/internal/config"
)

func TestNewProvider_StaticToken(t *testing.T) {
	p, err := NewProvider(config.AuthConfig{UserID: "u1", Token: "abc"})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if _, ok := p.(*StaticProvider); !ok {
		t.Fatalf("provider = %T, want *StaticProvider", p)
	}
	tok, err := p.Token(context.Background())
	if err != nil || tok != "abc" {
		t.Errorf("Token() = (%q, %v), want (abc, nil)", tok, err)
	}
}

func TestNewProvider_EmptyTokenIsUnauthenticated(t *testing.T) {
	p, err := NewProvider(config.AuthConfig{})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.IsAuthenticated() {
		t.Error("IsAuthenticated() = true, want false")
	}
}

func TestNewProvider_PrivateKey(t *testing.T) {
	key := generateKey(t)
	path := filepath.Join(t.TempDir(), "key.pem")
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	p, err := NewProvider(config.AuthConfig{
		UserID:         "dealer-7",
		Token:          "ignored",
		PrivateKeyPath: path,
		Issuer:         "vehicle-sync",
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	tok, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	claims, err := VerifyToken(tok, &key.PublicKey)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if claims.Subject != "dealer-7" {
		t.Errorf("Subject = %q, want dealer-7", claims.Subject)
	}
}

func TestNewProvider_MissingKeyFile(t *testing.T) {
	_, err := NewProvider(config.AuthConfig{UserID: "u1", PrivateKeyPath: "/nonexistent/key.pem"})
	if err == nil {
		t.Error("NewProvider() error = nil, want error for missing key")
	}
}
