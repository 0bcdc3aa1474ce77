package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	gsheet "google.golang.org/api/sheets/v4"
)

// Scope is the only permission the source needs.
const Scope = gsheet.SpreadsheetsReadonlyScope

// OAuthConfig builds the installed-app OAuth config from a client secret
// file downloaded from the Google console. An empty redirectURL keeps the
// first one listed in the file.
func OAuthConfig(clientFile, redirectURL string) (*oauth2.Config, error) {
	data, err := os.ReadFile(clientFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth client file: %w", err)
	}
	conf, err := googleoauth.ConfigFromJSON(data, Scope)
	if err != nil {
		return nil, fmt.Errorf("parse oauth client: %w", err)
	}
	if redirectURL != "" {
		conf.RedirectURL = redirectURL
	}
	return conf, nil
}

// LoadToken reads a token written by SaveToken.
func LoadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()

	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	if tok.RefreshToken == "" && tok.AccessToken == "" {
		return nil, errors.New("token file holds no token")
	}
	return &tok, nil
}

// SaveToken writes tok readable by the owner only.
func SaveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return fmt.Errorf("write token: %w", err)
	}
	return f.Close()
}

// tokenSource picks the credentials for cfg: a stored user token when an
// OAuth client is configured, a service account otherwise.
// GOOGLE_APPLICATION_CREDENTIALS is consulted when nothing is set.
func tokenSource(ctx context.Context, cfg Config) (oauth2.TokenSource, string, error) {
	if cfg.OAuthClientFile != "" || cfg.OAuthTokenFile != "" {
		if cfg.OAuthClientFile == "" || cfg.OAuthTokenFile == "" {
			return nil, "", errors.New("oauth needs both a client file and a token file")
		}
		conf, err := OAuthConfig(cfg.OAuthClientFile, "")
		if err != nil {
			return nil, "", err
		}
		tok, err := LoadToken(cfg.OAuthTokenFile)
		if err != nil {
			return nil, "", err
		}
		return conf.TokenSource(ctx, tok), "oauth_user", nil
	}

	inline := strings.TrimSpace(cfg.ServiceAccountJSON)
	file := strings.TrimSpace(cfg.ServiceAccountFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case inline != "":
		credentialsJSON = []byte(inline)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, "", fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	default:
		return nil, "", errors.New("missing credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, GOOGLE_OAUTH_CLIENT_FILE with GOOGLE_OAUTH_TOKEN_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	jwt, err := googleoauth.JWTConfigFromJSON(credentialsJSON, Scope)
	if err != nil {
		return nil, "", fmt.Errorf("parse service account: %w", err)
	}
	return jwt.TokenSource(ctx), "service_account", nil
}
