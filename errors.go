package auth

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Machine-readable text codes shared by every transport adapter. Adapters map
// backend payloads onto these; the manager stores and re-returns them without
// interpretation.
const (
	TextCodeNetworkError       = "NETWORK_ERROR"
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeUnauthorized       = "UNAUTHORIZED"
	TextCodeForbidden          = "FORBIDDEN"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenInvalid       = "TOKEN_INVALID"
	TextCodeUserNotFound       = "USER_NOT_FOUND"
	TextCodeUnknown            = "UNKNOWN_ERROR"
)

// ErrNetwork covers transport failures and timeouts.
var ErrNetwork = goerrors.New("network error", goerrors.CategoryInternal).
	WithTextCode(TextCodeNetworkError).
	WithCode(goerrors.CodeInternal)

// ErrInvalidCredentials is returned when the backend rejects a
// username/password or SSO exchange.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

var ErrUnauthorized = goerrors.New("unauthorized", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthorized).
	WithCode(goerrors.CodeUnauthorized)

var ErrForbidden = goerrors.New("forbidden", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenInvalid = goerrors.New("token is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrUnknown = goerrors.New("unknown authentication error", goerrors.CategoryInternal).
	WithTextCode(TextCodeUnknown).
	WithCode(goerrors.CodeInternal)

// NewAuthError builds an adapter-facing error with an explicit message and
// taxonomy code, e.g. NewAuthError("Invalid credentials", TextCodeInvalidCredentials).
func NewAuthError(message, textCode string) *goerrors.Error {
	category := goerrors.CategoryAuth
	code := goerrors.CodeUnauthorized
	switch textCode {
	case TextCodeNetworkError, TextCodeUnknown:
		category = goerrors.CategoryInternal
		code = goerrors.CodeInternal
	case TextCodeForbidden:
		category = goerrors.CategoryAuthz
		code = goerrors.CodeForbidden
	case TextCodeUserNotFound:
		category = goerrors.CategoryNotFound
		code = goerrors.CodeNotFound
	}
	return goerrors.New(message, category).WithTextCode(textCode).WithCode(code)
}

// ErrorCode extracts the taxonomy text code from any error produced by this
// package, falling back to UNKNOWN_ERROR.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode != "" {
		return richErr.TextCode
	}
	return TextCodeUnknown
}

// IsNetworkError reports whether err represents a transport failure.
func IsNetworkError(err error) bool {
	return ErrorCode(err) == TextCodeNetworkError
}

// IsTokenExpiredError checks for expired tokens, including the jwt library's
// own phrasing for tokens we introspect locally.
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if ErrorCode(err) == TextCodeTokenExpired {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// normalizeAuthError guarantees the manager only ever stores rich errors in
// AuthState so listeners can read Message/TextCode without type checks.
func normalizeAuthError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, err.Error()).
		WithTextCode(TextCodeUnknown).
		WithCode(goerrors.CodeInternal)
}
