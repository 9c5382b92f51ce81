// Package chabadorg implements the SDK's TransportAdapter against the
// Chabad.org accounts backend: JSON over HTTPS, with Google logins exchanged
// through OAuth2 first and token verification done locally against the
// backend's JWKS when configured.
package chabadorg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/oauth2"

	auth "github.com/merkos-302/chabaduniverse-auth-sub000"
)

// TokenProvider supplies the current access token for authenticated calls;
// wire it to the same TokenStore the Manager uses.
type TokenProvider func(ctx context.Context) (string, error)

// Config configures the adapter.
type Config struct {
	// BaseURL is the backend root, e.g. https://accounts.chabad.org.
	BaseURL string
	// HTTPClient defaults to a client with a 30s timeout. Supply one with a
	// cookie jar to make CDSSO cookie exchange work.
	HTTPClient *http.Client
	// Google, when set, makes LoginWithGoogle exchange the authorization
	// code for an access token before presenting it to the backend.
	Google *oauth2.Config
	// JWKSURL, when set, makes VerifyToken validate signatures locally
	// instead of a verification round trip.
	JWKSURL string
	// TokenProvider supplies the bearer token for GetCurrentUser and Logout.
	TokenProvider TokenProvider
	Logger        auth.Logger
}

// Adapter talks the Chabad.org accounts wire format and maps its error
// payloads onto the SDK taxonomy. One method call is one round trip.
type Adapter struct {
	baseURL       string
	client        *http.Client
	google        *oauth2.Config
	jwks          *keyfunc.JWKS
	tokenProvider TokenProvider
	logger        auth.Logger
}

var _ auth.TransportAdapter = (*Adapter)(nil)

// New validates cfg and constructs the adapter. When JWKSURL is set the key
// set is fetched eagerly so a bad URL fails construction, not the first
// verification.
func New(cfg Config) (*Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, goerrors.New("chabadorg: BaseURL is required", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	a := &Adapter{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		client:        cfg.HTTPClient,
		google:        cfg.Google,
		tokenProvider: cfg.TokenProvider,
		logger:        cfg.Logger,
	}
	if a.client == nil {
		a.client = &http.Client{Timeout: 30 * time.Second}
	}
	if a.logger == nil {
		a.logger = nopLogger{}
	}

	if cfg.JWKSURL != "" {
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  time.Minute,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "chabadorg: failed to load JWKS").
				WithTextCode(auth.TextCodeNetworkError).
				WithCode(goerrors.CodeInternal)
		}
		a.jwks = jwks
	}

	return a, nil
}

func (a *Adapter) LoginWithBearerToken(ctx context.Context, token string) (*auth.AuthResponse, error) {
	var out loginPayload
	if err := a.post(ctx, "/v3/auth/token", map[string]string{"bearerToken": token}, &out); err != nil {
		return nil, err
	}
	return out.toAuthResponse(), nil
}

func (a *Adapter) LoginWithCredentials(ctx context.Context, username, password string) (*auth.AuthResponse, error) {
	var out loginPayload
	body := map[string]string{"username": username, "password": password}
	if err := a.post(ctx, "/v3/auth/login", body, &out); err != nil {
		return nil, err
	}
	return out.toAuthResponse(), nil
}

func (a *Adapter) LoginWithGoogle(ctx context.Context, code string) (*auth.AuthResponse, error) {
	body := map[string]string{"code": code}
	if a.google != nil {
		token, err := a.google.Exchange(ctx, code)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "google code exchange failed").
				WithTextCode(auth.TextCodeInvalidCredentials).
				WithCode(goerrors.CodeUnauthorized)
		}
		body = map[string]string{"accessToken": token.AccessToken}
	}

	var out loginPayload
	if err := a.post(ctx, "/v3/auth/google", body, &out); err != nil {
		return nil, err
	}
	return out.toAuthResponse(), nil
}

func (a *Adapter) LoginWithChabadOrg(ctx context.Context, key string) (*auth.AuthResponse, error) {
	var out loginPayload
	if err := a.post(ctx, "/v3/auth/chabadorg", map[string]string{"ssoKey": key}, &out); err != nil {
		return nil, err
	}
	return out.toAuthResponse(), nil
}

// LoginWithCDSSO rides on the cross-domain SSO cookies already present in
// the HTTP client's jar; the backend answers with a fresh session when the
// cookie state is valid.
func (a *Adapter) LoginWithCDSSO(ctx context.Context) (*auth.AuthResponse, error) {
	var out loginPayload
	if err := a.post(ctx, "/v3/auth/cdsso", map[string]string{}, &out); err != nil {
		return nil, err
	}
	return out.toAuthResponse(), nil
}

func (a *Adapter) GetCurrentUser(ctx context.Context) (*auth.UserRecord, error) {
	var out userPayload
	if err := a.call(ctx, http.MethodGet, "/v3/users/me", nil, &out); err != nil {
		return nil, err
	}
	return out.toUserRecord(), nil
}

func (a *Adapter) RefreshToken(ctx context.Context, refreshToken string) (*auth.AuthResponse, error) {
	var out loginPayload
	if err := a.post(ctx, "/v3/auth/refresh", map[string]string{"refreshToken": refreshToken}, &out); err != nil {
		return nil, err
	}
	return out.toAuthResponse(), nil
}

func (a *Adapter) Logout(ctx context.Context) error {
	return a.post(ctx, "/v3/auth/logout", map[string]string{}, nil)
}

// VerifyToken prefers local JWKS signature validation; expired or malformed
// tokens report invalid without an error. Without a JWKS it falls back to
// the backend's verification endpoint.
func (a *Adapter) VerifyToken(ctx context.Context, token string) (bool, error) {
	if a.jwks != nil {
		parsed, err := jwt.Parse(token, a.jwks.Keyfunc)
		if err != nil {
			a.logger.Debug("chabadorg: local token verification failed: %v", err)
			return false, nil
		}
		return parsed.Valid, nil
	}

	var out struct {
		Valid bool `json:"valid"`
	}
	req, err := a.newRequest(ctx, http.MethodGet, "/v3/auth/verify", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if err := a.send(req, &out); err != nil {
		if auth.ErrorCode(err) == auth.TextCodeUnauthorized {
			return false, nil
		}
		return false, err
	}
	return out.Valid, nil
}

func (a *Adapter) post(ctx context.Context, path string, body, out any) error {
	return a.call(ctx, http.MethodPost, path, body, out)
}

func (a *Adapter) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "chabadorg: request encode failed").
				WithTextCode(auth.TextCodeUnknown).
				WithCode(goerrors.CodeInternal)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := a.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if a.tokenProvider != nil {
		if token, err := a.tokenProvider(ctx); err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return a.send(req, out)
}

func (a *Adapter) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "chabadorg: request build failed").
			WithTextCode(auth.TextCodeUnknown).
			WithCode(goerrors.CodeInternal)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (a *Adapter) send(req *http.Request, out any) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "network error").
			WithTextCode(auth.TextCodeNetworkError).
			WithCode(goerrors.CodeInternal)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "network error").
			WithTextCode(auth.TextCodeNetworkError).
			WithCode(goerrors.CodeInternal)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return a.mapError(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "chabadorg: response decode failed").
			WithTextCode(auth.TextCodeUnknown).
			WithCode(goerrors.CodeInternal)
	}
	return nil
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// mapError converts the backend's error envelope (or a bare status when the
// envelope is missing) into the SDK taxonomy.
func (a *Adapter) mapError(status int, data []byte) error {
	var payload errorPayload
	_ = json.Unmarshal(data, &payload)

	code := payload.Error.Code
	message := payload.Error.Message

	if code == "" {
		switch status {
		case http.StatusUnauthorized:
			code = auth.TextCodeUnauthorized
		case http.StatusForbidden:
			code = auth.TextCodeForbidden
		case http.StatusNotFound:
			code = auth.TextCodeUserNotFound
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			code = auth.TextCodeNetworkError
		default:
			code = auth.TextCodeUnknown
		}
	}
	if message == "" {
		message = fmt.Sprintf("backend responded with status %d", status)
	}

	switch code {
	case auth.TextCodeInvalidCredentials,
		auth.TextCodeUnauthorized,
		auth.TextCodeForbidden,
		auth.TextCodeTokenExpired,
		auth.TextCodeTokenInvalid,
		auth.TextCodeUserNotFound,
		auth.TextCodeNetworkError:
		return auth.NewAuthError(message, code)
	default:
		return auth.NewAuthError(message, auth.TextCodeUnknown)
	}
}

type loginPayload struct {
	User         userPayload `json:"user"`
	Token        string      `json:"token"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresIn    int64       `json:"expiresIn"`
}

func (p loginPayload) toAuthResponse() *auth.AuthResponse {
	return &auth.AuthResponse{
		User:         p.User.toUserRecord(),
		Token:        p.Token,
		RefreshToken: p.RefreshToken,
		ExpiresIn:    p.ExpiresIn,
	}
}

type userPayload struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Username    string   `json:"username"`
	DisplayName string   `json:"displayName"`
	AvatarURL   string   `json:"avatarUrl"`
	Roles       []string `json:"roles"`
}

func (p userPayload) toUserRecord() *auth.UserRecord {
	return &auth.UserRecord{
		ID:          p.ID,
		Email:       p.Email,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		Roles:       p.Roles,
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
