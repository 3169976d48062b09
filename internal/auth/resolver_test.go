package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/tradepost/chat-service/internal/chat"
)

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{
		"token-a": "user-a",
		"token-b": "user-b",
		"orphan":  "",
	}

	cases := []struct {
		name       string
		credential string
		wantUser   string
		wantErr    error
	}{
		{"known token", "token-a", "user-a", nil},
		{"another known token", "token-b", "user-b", nil},
		{"unknown token", "token-x", "", chat.ErrUnauthenticated},
		{"empty credential", "", "", chat.ErrUnauthenticated},
		{"token without identity", "orphan", "", chat.ErrUnauthenticated},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			userID, err := r.Resolve(context.Background(), tc.credential)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if userID != tc.wantUser {
				t.Errorf("expected user %q, got %q", tc.wantUser, userID)
			}
		})
	}
}
