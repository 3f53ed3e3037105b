package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	return key
}

func TestLoadPrivateKey_PKCS8(t *testing.T) {
	privateKey := generateKey(t)

	pkcs8Bytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("failed to marshal PKCS#8: %v", err)
	}

	pemBlock := &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: pkcs8Bytes,
	}

	tmpFile := filepath.Join(t.TempDir(), "test-key.pem")
	if err := os.WriteFile(tmpFile, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	loadedKey, err := LoadPrivateKey(tmpFile)
	if err != nil {
		t.Fatalf("LoadPrivateKey failed: %v", err)
	}

	if loadedKey.N.Cmp(privateKey.N) != 0 {
		t.Error("loaded key does not match original")
	}
}

func TestLoadPrivateKey_PKCS1(t *testing.T) {
	privateKey := generateKey(t)

	pemBlock := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}

	tmpFile := filepath.Join(t.TempDir(), "test-key.pem")
	if err := os.WriteFile(tmpFile, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	loadedKey, err := LoadPrivateKey(tmpFile)
	if err != nil {
		t.Fatalf("LoadPrivateKey failed: %v", err)
	}

	if loadedKey.N.Cmp(privateKey.N) != 0 {
		t.Error("loaded key does not match original")
	}
}

func TestLoadPrivateKey_FileNotFound(t *testing.T) {
	_, err := LoadPrivateKey("/nonexistent/path/to/key.pem")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestParsePrivateKey_InvalidPEM(t *testing.T) {
	if _, err := ParsePrivateKey([]byte("not a pem file")); err == nil {
		t.Error("expected error for invalid PEM")
	}
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider("")
	if p.IsAuthenticated() {
		t.Error("empty token should be unauthenticated")
	}
	if _, err := p.Token(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Token error = %v, want ErrNotAuthenticated", err)
	}

	p.SetToken("abc")
	tok, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok != "abc" {
		t.Errorf("Token = %q, want abc", tok)
	}
}

func TestKeyProvider_MintsVerifiableTokens(t *testing.T) {
	key := generateKey(t)

	p, err := NewKeyProvider(KeyProviderConfig{
		KeyID:   "k1",
		Subject: "user-7",
		Issuer:  "vehicle-sync",
		TTL:     time.Minute,
	}, key)
	if err != nil {
		t.Fatalf("NewKeyProvider failed: %v", err)
	}

	first, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	second, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if first == second {
		t.Error("each Token call should mint a new token")
	}

	claims, err := VerifyToken(first, &key.PublicKey)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if claims.Subject != "user-7" {
		t.Errorf("Subject = %q, want user-7", claims.Subject)
	}
	if claims.ExpiresAt == nil || claims.ExpiresAt.Sub(claims.IssuedAt.Time) != time.Minute {
		t.Errorf("expiry = %v, want issued + 1m", claims.ExpiresAt)
	}
}

func TestKeyProvider_ExpiredToken(t *testing.T) {
	key := generateKey(t)
	p, err := NewKeyProvider(KeyProviderConfig{Subject: "user-7", TTL: time.Minute}, key)
	if err != nil {
		t.Fatalf("NewKeyProvider failed: %v", err)
	}
	p.now = func() time.Time { return time.Now().Add(-time.Hour) }

	tok, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if _, err := VerifyToken(tok, &key.PublicKey); err == nil {
		t.Error("expected verification failure for expired token")
	}
}

func TestKeyProvider_WrongKey(t *testing.T) {
	p, err := NewKeyProvider(KeyProviderConfig{Subject: "user-7"}, generateKey(t))
	if err != nil {
		t.Fatalf("NewKeyProvider failed: %v", err)
	}
	tok, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	other := generateKey(t)
	if _, err := VerifyToken(tok, &other.PublicKey); err == nil {
		t.Error("expected verification failure with a different key")
	}
}

func TestNewKeyProvider_Validation(t *testing.T) {
	if _, err := NewKeyProvider(KeyProviderConfig{Subject: "u"}, nil); err == nil {
		t.Error("expected error for nil key")
	}
	if _, err := NewKeyProvider(KeyProviderConfig{}, generateKey(t)); err == nil {
		t.Error("expected error for missing subject")
	}
}

func TestSession_LoginLogout(t *testing.T) {
	s := NewSession(nil)
	ctx := context.Background()

	var events []string
	s.OnLogin(func(ctx context.Context, userID string) { events = append(events, "login:"+userID) })
	s.OnLogout(func(ctx context.Context, userID string) { events = append(events, "logout:"+userID) })

	if s.IsAuthenticated() {
		t.Error("new session should be unauthenticated")
	}
	if _, err := s.Token(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Token error = %v, want ErrNotAuthenticated", err)
	}

	s.Login(ctx, "alice", NewStaticProvider("t1"))
	if !s.IsAuthenticated() {
		t.Error("expected authenticated after login")
	}
	if tok, _ := s.Token(ctx); tok != "t1" {
		t.Errorf("Token = %q, want t1", tok)
	}

	// Switching users logs the previous one out first.
	s.Login(ctx, "bob", NewStaticProvider("t2"))
	s.Logout(ctx)
	s.Logout(ctx)

	want := []string{"login:alice", "logout:alice", "login:bob", "logout:bob"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}
	if s.UserID() != "" {
		t.Errorf("UserID = %q after logout", s.UserID())
	}
}
