package main

import (
	"errors"
	"testing"
	"time"

	"github.com/muniportal/portal-auth/internal/core/domain"
)

type recordingHasher struct {
	hashed string
}

func (h *recordingHasher) Hash(password string) (string, error) {
	h.hashed = password
	return "$argon2id$stub", nil
}

func (h *recordingHasher) Verify(string, string) (bool, error) { return false, errors.New("unused") }

func TestBuildAccount(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	hasher := &recordingHasher{}

	account, err := buildAccount(accountInput{
		Username:    "  clerk.jones ",
		AlternateID: "B-1042",
		Password:    "Harbor-Lantern-Quietly-42!",
		Roles:       []string{"clerk", " ", "records"},
	}, hasher, now)
	if err != nil {
		t.Fatalf("buildAccount returned error: %v", err)
	}

	if account.ID == "" || account.Username != "clerk.jones" {
		t.Fatalf("unexpected identity %q/%q", account.ID, account.Username)
	}
	if account.AlternateID == nil || *account.AlternateID != "B-1042" {
		t.Fatalf("expected alternate id, got %v", account.AlternateID)
	}
	if account.PasswordHash != "$argon2id$stub" || hasher.hashed != "Harbor-Lantern-Quietly-42!" {
		t.Fatalf("expected password hashed, got %q", account.PasswordHash)
	}
	if len(account.Roles) != 2 || account.Roles[1] != "records" {
		t.Fatalf("expected blank roles dropped, got %v", account.Roles)
	}
	if account.Status != domain.AccountStatusActive || account.MFAState != domain.MFAStateDisabled {
		t.Fatalf("unexpected status %s/%s", account.Status, account.MFAState)
	}
	if !account.CreatedAt.Equal(now) {
		t.Fatalf("expected created at %v, got %v", now, account.CreatedAt)
	}
}

func TestBuildAccountRejectsWeakPassword(t *testing.T) {
	hasher := &recordingHasher{}

	if _, err := buildAccount(accountInput{Username: "clerk.jones", Password: "short"}, hasher, time.Now()); err == nil {
		t.Fatal("expected weak password to be rejected")
	}
	if _, err := buildAccount(accountInput{Username: "clerk.jones", Password: "clerk.jones-Harbor-42!"}, hasher, time.Now()); err == nil {
		t.Fatal("expected password containing the username to be rejected")
	}
	if _, err := buildAccount(accountInput{Username: "  ", Password: "Harbor-Lantern-Quietly-42!"}, hasher, time.Now()); err == nil {
		t.Fatal("expected blank username to be rejected")
	}
	if hasher.hashed != "" {
		t.Fatalf("rejected input must not be hashed, got %q", hasher.hashed)
	}
}
