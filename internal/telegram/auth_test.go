package telegram

import (
	"testing"
	"time"
)

func TestNewAuthManager(t *testing.T) {
	tests := []struct {
		name          string
		adminIDs      string
		whitelist     string
		wantAdmins    int
		wantWhitelist int
	}{
		{"empty", "", "", 0, 0},
		{"single admin", "123", "", 1, 0},
		{"multiple admins", "123,456,789", "", 3, 0},
		{"with whitelist", "123", "456,789", 1, 2},
		{"with spaces", "123, 456, 789", "", 3, 0},
		{"garbage skipped", "123,abc,", "", 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			am := NewAuthManager(tt.adminIDs, tt.whitelist)
			if len(am.adminIDs) != tt.wantAdmins {
				t.Errorf("NewAuthManager() admins = %v, want %v", len(am.adminIDs), tt.wantAdmins)
			}
			if len(am.whitelist) != tt.wantWhitelist {
				t.Errorf("NewAuthManager() whitelist = %v, want %v", len(am.whitelist), tt.wantWhitelist)
			}
		})
	}
}

func TestAuthManager_IsAdmin(t *testing.T) {
	am := NewAuthManager("123,456", "")

	tests := []struct {
		name   string
		userID int64
		want   bool
	}{
		{"admin 1", 123, true},
		{"admin 2", 456, true},
		{"not admin", 789, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := am.IsAdmin(tt.userID); got != tt.want {
				t.Errorf("IsAdmin() = %v, want %v", got, tt.want)
			}
		})
	}

	if err := am.RequireAdmin(789); err == nil {
		t.Error("RequireAdmin() should fail for non-admin")
	}
}

func TestAuthManager_IsAdmin_EmptyList(t *testing.T) {
	am := NewAuthManager("", "")
	if !am.IsAdmin(42) {
		t.Error("IsAdmin() with empty list should allow everyone")
	}
}

func TestAuthManager_IsAllowed(t *testing.T) {
	open := NewAuthManager("", "")
	if !open.IsAllowed(1) {
		t.Error("IsAllowed() without whitelist should allow everyone")
	}

	am := NewAuthManager("123", "456")
	tests := []struct {
		userID int64
		want   bool
	}{
		{123, true},
		{456, true},
		{789, false},
	}
	for _, tt := range tests {
		if got := am.IsAllowed(tt.userID); got != tt.want {
			t.Errorf("IsAllowed(%d) = %v, want %v", tt.userID, got, tt.want)
		}
	}
}

func TestAuthManager_Allow(t *testing.T) {
	am := NewAuthManager("", "")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if !am.Allow(1, now) || !am.Allow(1, now) {
		t.Fatal("burst of 2 should be allowed")
	}
	if am.Allow(1, now) {
		t.Error("third request in the same instant should be limited")
	}
	if !am.Allow(2, now) {
		t.Error("limits are per user")
	}
	if !am.Allow(1, now.Add(time.Second)) {
		t.Error("tokens should refill after a second")
	}
}

func TestAuthManager_CleanupRateLimiters(t *testing.T) {
	am := NewAuthManager("", "")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	am.Allow(1, now)
	am.Allow(2, now.Add(4*time.Minute))

	removed := am.CleanupRateLimiters(now.Add(6*time.Minute), 5*time.Minute)
	if removed != 1 {
		t.Errorf("CleanupRateLimiters() = %d, want 1", removed)
	}
	if len(am.limiters) != 1 {
		t.Errorf("limiters left = %d, want 1", len(am.limiters))
	}
}
