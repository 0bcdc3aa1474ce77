package google

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

const testClientJSON = `{"installed":{"client_id":"id.apps.googleusercontent.com","client_secret":"secret","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	want := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	if err := SaveToken(path, want); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("token file mode=%v", perm)
	}

	got, err := LoadToken(path)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if got.RefreshToken != "r" || !got.Expiry.Equal(want.Expiry) {
		t.Errorf("token=%+v", got)
	}
}

func TestLoadTokenRejectsEmpty(t *testing.T) {
	path := writeFile(t, t.TempDir(), "token.json", `{}`)
	if _, err := LoadToken(path); err == nil {
		t.Fatal("expected an error for an empty token")
	}
}

func TestOAuthConfig(t *testing.T) {
	client := writeFile(t, t.TempDir(), "client.json", testClientJSON)

	conf, err := OAuthConfig(client, "")
	if err != nil {
		t.Fatalf("OAuthConfig: %v", err)
	}
	if conf.RedirectURL != "http://localhost" || len(conf.Scopes) != 1 || conf.Scopes[0] != Scope {
		t.Errorf("conf=%+v", conf)
	}

	conf, _ = OAuthConfig(client, "http://localhost:8085/callback")
	if conf.RedirectURL != "http://localhost:8085/callback" {
		t.Errorf("redirect=%q", conf.RedirectURL)
	}
}

func TestTokenSourceSelection(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	dir := t.TempDir()
	client := writeFile(t, dir, "client.json", testClientJSON)
	token := writeFile(t, dir, "token.json", `{"access_token":"a","refresh_token":"r"}`)

	tests := []struct {
		name    string
		cfg     Config
		kind    string
		wantErr string
	}{
		{name: "oauth user", cfg: Config{OAuthClientFile: client, OAuthTokenFile: token}, kind: "oauth_user"},
		{name: "oauth without token", cfg: Config{OAuthClientFile: client}, wantErr: "both"},
		{name: "no credentials", cfg: Config{}, wantErr: "missing credentials"},
		{name: "not a service account", cfg: Config{ServiceAccountJSON: `{"type":"authorized_user"}`}, wantErr: "service account"},
		{name: "unreadable file", cfg: Config{ServiceAccountFile: filepath.Join(dir, "absent.json")}, wantErr: "read service account file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, kind, err := tokenSource(context.Background(), tt.cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err=%v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("tokenSource: %v", err)
			}
			if ts == nil || kind != tt.kind {
				t.Errorf("kind=%q", kind)
			}
		})
	}
}
