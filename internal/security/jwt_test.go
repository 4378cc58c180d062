package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidateToken(t *testing.T) {
	secret := []byte("test-secret-key-32bytes-long!!!!!")
	token, err := GenerateToken("app-1", "install-9", secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ValidateToken(token, secret)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.AppID != "app-1" {
		t.Errorf("AppID = %q, want %q", claims.AppID, "app-1")
	}
	if claims.InstallID != "install-9" {
		t.Errorf("InstallID = %q, want %q", claims.InstallID, "install-9")
	}
	if claims.IssuedAt == 0 {
		t.Error("IssuedAt should be set")
	}
	if claims.ExpiresAt-claims.IssuedAt != int64(time.Hour/time.Second) {
		t.Errorf("unexpected lifetime: iat %d exp %d", claims.IssuedAt, claims.ExpiresAt)
	}
}

func TestGenerateTokenRequiresSecret(t *testing.T) {
	if _, err := GenerateToken("app-1", "", nil, time.Minute); err != ErrMissingSecret {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	secret := []byte("test-secret")
	token, _ := GenerateToken("app-1", "", secret, -time.Hour)
	_, err := ValidateToken(token, secret)
	if err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	secret := []byte("test-secret")
	_, err := ValidateToken("not-a-valid-jwt", secret)
	if err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	token, _ := GenerateToken("app-1", "", []byte("secret-a"), time.Hour)
	if _, err := ValidateToken(token, []byte("secret-b")); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenWithoutAppIDRejected(t *testing.T) {
	secret := []byte("test-secret")
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateToken(signed, secret); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNoneAlgorithmRejected(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwtClaims{AppID: "app-1"})
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateToken(signed, []byte("secret")); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenSourceCachesUntilRenewal(t *testing.T) {
	src := NewTokenSource("app-1", "install-1", []byte("secret"), time.Hour)

	first, err := src.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	second, _ := src.Token()
	if first != second {
		t.Error("expected cached token to be reused")
	}

	// Force renewal.
	src.mu.Lock()
	src.renewAt = time.Now().Add(-time.Second)
	src.mu.Unlock()

	time.Sleep(1100 * time.Millisecond) // iat has second resolution
	third, _ := src.Token()
	if third == first {
		t.Error("expected a fresh token after renewal time")
	}
}

func TestTokenSourceDefaultExpiry(t *testing.T) {
	src := NewTokenSource("app-1", "", []byte("secret"), 0)
	tok, err := src.Token()
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ValidateToken(tok, []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if got := claims.ExpiresAt - claims.IssuedAt; got != int64(DefaultTokenExpiry/time.Second) {
		t.Errorf("expected default lifetime, got %ds", got)
	}
}
