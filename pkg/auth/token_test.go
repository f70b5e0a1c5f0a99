package auth

import (
	"testing"
	"time"
)

func TestIssueAndValidate(t *testing.T) {
	svc := NewTokenService("test-secret", time.Minute)
	token, err := svc.Issue("alice")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	login, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if login != "alice" {
		t.Fatalf("subject = %q, want alice", login)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc := NewTokenService("test-secret", -time.Minute)
	token, err := svc.Issue("alice")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := svc.Validate(token); err == nil {
		t.Fatalf("expected expired token to fail validation")
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenService("secret-a", time.Minute).Issue("alice")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := NewTokenService("secret-b", time.Minute).Validate(token); err == nil {
		t.Fatalf("expected mis-signed token to fail validation")
	}
}

func TestValidateRejectsMalformedToken(t *testing.T) {
	svc := NewTokenService("test-secret", time.Minute)
	for _, token := range []string{"", "garbage", "a.b", "a.b.c"} {
		if _, err := svc.Validate(token); err == nil {
			t.Fatalf("expected malformed token %q to fail validation", token)
		}
	}
}
