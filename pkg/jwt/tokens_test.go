package jwt

import (
	"testing"
	"time"
)

func TestGenerateAndParseRoundTrip(t *testing.T) {
	token, err := GenerateToken("pipeline", "s3cret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}
	claims, err := Parse(token, "s3cret")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if claims.Operator != "pipeline" || claims.Subject != "pipeline" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("pipeline", "s3cret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}
	if _, err := Parse(token, "other"); err == nil {
		t.Fatal("expected signature validation failure")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token, err := GenerateToken("pipeline", "s3cret", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}
	if _, err := Parse(token, "s3cret"); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestGenerateTokenRequiresSecret(t *testing.T) {
	if _, err := GenerateToken("pipeline", " ", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
