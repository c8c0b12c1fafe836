package engine_test

import (
	"testing"
	"time"

	"ledgerback/internal/engine"
)

func TestCredentialUsableAt(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		cred engine.Credential
		want bool
	}{
		{
			name: "well before expiry",
			cred: engine.Credential{AccessToken: "t", AccessExpiry: now.Add(time.Hour)},
			want: true,
		},
		{
			name: "exactly the safety buffer remaining",
			cred: engine.Credential{AccessToken: "t", AccessExpiry: now.Add(engine.SafetyBuffer)},
			want: false,
		},
		{
			name: "one second past the buffer",
			cred: engine.Credential{AccessToken: "t", AccessExpiry: now.Add(engine.SafetyBuffer + time.Second)},
			want: true,
		},
		{
			name: "expired",
			cred: engine.Credential{AccessToken: "t", AccessExpiry: now.Add(-time.Minute)},
			want: false,
		},
		{
			name: "no access token",
			cred: engine.Credential{AccessExpiry: now.Add(time.Hour)},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cred.UsableAt(now); got != tt.want {
				t.Errorf("UsableAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCredentialPersistent(t *testing.T) {
	with := engine.Credential{AccessToken: "t", RefreshToken: "r"}
	without := engine.Credential{AccessToken: "t"}

	if !with.Persistent() {
		t.Error("credential with refresh token should be persistent")
	}
	if without.Persistent() {
		t.Error("credential without refresh token should be ephemeral")
	}
}
