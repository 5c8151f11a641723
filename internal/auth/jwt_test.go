package auth

import "testing"

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewJWTService("test-secret", 3600)

	token, expiresAt, err := svc.GenerateToken("admin")
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}
	if token == "" {
		t.Fatal("GenerateToken() returned empty token")
	}
	if expiresAt <= 0 {
		t.Fatalf("GenerateToken() expiresAt = %d, want positive", expiresAt)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error: %v", err)
	}
	if claims.Username != "admin" {
		t.Errorf("Username = %q, want %q", claims.Username, "admin")
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	svc := NewJWTService("secret-a", 3600)
	token, _, err := svc.GenerateToken("admin")
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}

	other := NewJWTService("secret-b", 3600)
	if _, err := other.ValidateToken(token); err == nil {
		t.Fatal("expected validation error with mismatched secret, got nil")
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}
	if !VerifyPassword("correct horse battery staple", hash) {
		t.Error("VerifyPassword() = false for correct password, want true")
	}
	if VerifyPassword("wrong password", hash) {
		t.Error("VerifyPassword() = true for wrong password, want false")
	}
}
