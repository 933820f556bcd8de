package auth

import (
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	tokens, err := Issue("teacher-1", RoleTeacher, "rollcall", "test-key", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := Parse(tokens.AccessToken, "test-key", "rollcall")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "teacher-1" || claims.Role != RoleTeacher {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseRejectsWrongKeyAndIssuer(t *testing.T) {
	tokens, err := Issue("student-1", RoleStudent, "rollcall", "test-key", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(tokens.AccessToken, "other-key", "rollcall"); err == nil {
		t.Fatalf("expected wrong-key rejection")
	}
	if _, err := Parse(tokens.AccessToken, "test-key", "someone-else"); err == nil {
		t.Fatalf("expected issuer mismatch rejection")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	tokens, err := Issue("student-1", RoleStudent, "rollcall", "test-key", -time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(tokens.AccessToken, "test-key", "rollcall"); err == nil {
		t.Fatalf("expected expired-token rejection")
	}
}
