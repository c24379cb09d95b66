package google

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

const DefaultRedirectURL = "http://localhost:3001"

// Scopes cover draft creation, message search and document creation.
var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.compose",
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/drive",
}

var ErrNotAuthenticated = errors.New("google: no stored token, run setup first")

// LoadOAuthConfig reads a client secrets file in either the console
// "installed"/"web" layout or a flat {client_id, client_secret} object.
func LoadOAuthConfig(path string, scopes []string) (*oauth2.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read google credentials: %w", err)
	}
	var file struct {
		Installed *clientSecrets `json:"installed"`
		Web       *clientSecrets `json:"web"`
		clientSecrets
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode google credentials: %w", err)
	}
	secrets := file.Installed
	if secrets == nil {
		secrets = file.Web
	}
	if secrets == nil {
		secrets = &file.clientSecrets
	}
	if secrets.ClientID == "" || secrets.ClientSecret == "" {
		return nil, errors.New("google credentials: client_id and client_secret are required")
	}
	endpoint := googleoauth.Endpoint
	if secrets.AuthURI != "" {
		endpoint.AuthURL = secrets.AuthURI
	}
	if secrets.TokenURI != "" {
		endpoint.TokenURL = secrets.TokenURI
	}
	redirect := DefaultRedirectURL
	if len(secrets.RedirectURIs) > 0 && strings.TrimSpace(secrets.RedirectURIs[0]) != "" {
		redirect = secrets.RedirectURIs[0]
	}
	return &oauth2.Config{
		ClientID:     secrets.ClientID,
		ClientSecret: secrets.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  redirect,
		Scopes:       scopes,
	}, nil
}

type clientSecrets struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AuthURI      string   `json:"auth_uri"`
	TokenURI     string   `json:"token_uri"`
	RedirectURIs []string `json:"redirect_uris"`
}

// TokenStore persists one OAuth token as a JSON file.
type TokenStore struct {
	path string
}

func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

func (s *TokenStore) Load() (*oauth2.Token, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &tok, nil
}

func (s *TokenStore) Save(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("ensure token dir: %w", err)
	}
	raw, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o600)
}

func (s *TokenStore) Delete() error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// IdentityProvider obtains and refreshes the user's Google token.
type IdentityProvider struct {
	config *oauth2.Config
	store  *TokenStore
	log    *zap.Logger
}

func NewIdentityProvider(config *oauth2.Config, store *TokenStore, log *zap.Logger) *IdentityProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &IdentityProvider{config: config, store: store, log: log}
}

// Authenticate runs the installed-app consent flow: it writes the consent URL
// to out and reads either the bare code or the full redirect URL from in.
func (p *IdentityProvider) Authenticate(ctx context.Context, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	authURL := p.config.AuthCodeURL("toolchat", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "Open this URL to authorize access:\n%s\n\nPaste the redirect URL or code: ", authURL)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read authorization code: %w", err)
	}
	code, err := extractCode(line)
	if err != nil {
		return nil, err
	}
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	if err := p.store.Save(tok); err != nil {
		return nil, err
	}
	p.log.Info("google authorization stored")
	return tok, nil
}

// Refresh returns a valid token for tok, persisting it when it changed.
func (p *IdentityProvider) Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	if tok == nil {
		return nil, ErrNotAuthenticated
	}
	next, err := p.config.TokenSource(ctx, tok).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh google token: %w", err)
	}
	if next.AccessToken != tok.AccessToken {
		if err := p.store.Save(next); err != nil {
			return nil, err
		}
		p.log.Info("google token refreshed")
	}
	return next, nil
}

// HTTPClient returns a client that authorizes every request with the stored
// token and refreshes it as needed.
func (p *IdentityProvider) HTTPClient(ctx context.Context) (*http.Client, error) {
	tok, err := p.store.Load()
	if err != nil {
		return nil, err
	}
	src := &persistingSource{provider: p, current: tok}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

type persistingSource struct {
	mu       sync.Mutex
	provider *IdentityProvider
	current  *oauth2.Token
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.provider.Refresh(context.Background(), s.current)
	if err != nil {
		return nil, err
	}
	s.current = next
	return next, nil
}

func extractCode(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("authorization code is empty")
	}
	if !strings.Contains(input, "://") {
		return input, nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parse redirect URL: %w", err)
	}
	code := u.Query().Get("code")
	if code == "" {
		return "", errors.New("authorization code not found in the URL")
	}
	return code, nil
}
