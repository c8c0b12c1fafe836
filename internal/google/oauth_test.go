package google_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ledgerback/internal/google"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *google.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return google.NewClient(google.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      srv.URL + "/auth",
		TokenURL:     srv.URL + "/token",
		RevokeURL:    srv.URL + "/revoke",
	})
}

func TestClient_ExchangeCode(t *testing.T) {
	t.Run("trades a code for an access and refresh pair", func(t *testing.T) {
		var gotForm map[string]string
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/token" {
				t.Errorf("path = %s, want /token", r.URL.Path)
			}
			r.ParseForm()
			gotForm = map[string]string{
				"grant_type":   r.PostFormValue("grant_type"),
				"code":         r.PostFormValue("code"),
				"redirect_uri": r.PostFormValue("redirect_uri"),
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"tok-1","refresh_token":"refresh-1","token_type":"Bearer","expires_in":3600}`))
		})

		cred, err := c.ExchangeCode(context.Background(), "auth-code", "urn:ietf:wg:oauth:2.0:oob")
		if err != nil {
			t.Fatalf("ExchangeCode() error = %v", err)
		}

		if gotForm["grant_type"] != "authorization_code" {
			t.Errorf("grant_type = %q", gotForm["grant_type"])
		}
		if gotForm["code"] != "auth-code" {
			t.Errorf("code = %q", gotForm["code"])
		}
		if gotForm["redirect_uri"] != "urn:ietf:wg:oauth:2.0:oob" {
			t.Errorf("redirect_uri = %q", gotForm["redirect_uri"])
		}

		if cred.AccessToken != "tok-1" || cred.RefreshToken != "refresh-1" {
			t.Errorf("credential = %+v", cred)
		}
		if cred.AccessExpiry.IsZero() {
			t.Error("expiry not set from expires_in")
		}
	})

	t.Run("propagates provider rejection", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
		})

		if _, err := c.ExchangeCode(context.Background(), "stale-code", ""); err == nil {
			t.Fatal("ExchangeCode() expected error")
		}
	})
}

func TestClient_Refresh(t *testing.T) {
	t.Run("obtains a new access token", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			r.ParseForm()
			if got := r.PostFormValue("grant_type"); got != "refresh_token" {
				t.Errorf("grant_type = %q, want refresh_token", got)
			}
			if got := r.PostFormValue("refresh_token"); got != "refresh-1" {
				t.Errorf("refresh_token = %q", got)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"tok-2","token_type":"Bearer","expires_in":3600}`))
		})

		cred, err := c.Refresh(context.Background(), "refresh-1")
		if err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		if cred.AccessToken != "tok-2" {
			t.Errorf("access token = %q, want tok-2", cred.AccessToken)
		}
		if cred.RefreshToken != "" {
			t.Errorf("refresh token = %q, want empty when not rotated", cred.RefreshToken)
		}
	})

	t.Run("surfaces a rotated refresh token", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"tok-2","refresh_token":"refresh-2","token_type":"Bearer","expires_in":3600}`))
		})

		cred, err := c.Refresh(context.Background(), "refresh-1")
		if err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		if cred.RefreshToken != "refresh-2" {
			t.Errorf("refresh token = %q, want refresh-2", cred.RefreshToken)
		}
	})

	t.Run("fails when the provider rejects the refresh token", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
		})

		if _, err := c.Refresh(context.Background(), "revoked"); err == nil {
			t.Fatal("Refresh() expected error")
		}
	})
}

func TestClient_Revoke(t *testing.T) {
	t.Run("posts the token as a form", func(t *testing.T) {
		var gotToken string
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/revoke" || r.Method != http.MethodPost {
				t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
				t.Errorf("content type = %q", ct)
			}
			r.ParseForm()
			gotToken = r.PostFormValue("token")
		})

		if err := c.Revoke(context.Background(), "tok-1"); err != nil {
			t.Fatalf("Revoke() error = %v", err)
		}
		if gotToken != "tok-1" {
			t.Errorf("token = %q, want tok-1", gotToken)
		}
	})

	t.Run("non-OK status is an error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		})

		if err := c.Revoke(context.Background(), "already-revoked"); err == nil {
			t.Fatal("Revoke() expected error")
		}
	})
}

func TestClient_AuthCodeURL(t *testing.T) {
	c := google.NewClient(google.Config{ClientID: "client-id"})

	u := c.AuthCodeURL("urn:ietf:wg:oauth:2.0:oob")
	for _, want := range []string{
		"client_id=client-id",
		"access_type=offline",
		"redirect_uri=urn%3Aietf%3Awg%3Aoauth%3A2.0%3Aoob",
		"drive.file",
	} {
		if !strings.Contains(u, want) {
			t.Errorf("AuthCodeURL() = %q, missing %q", u, want)
		}
	}
}
