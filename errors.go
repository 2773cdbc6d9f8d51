package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// ErrorCode is the stable, machine matchable failure code carried by every
// failed Result. UI code must branch on the code, never on the message.
type ErrorCode string

const (
	CodeInvalidCredentials    ErrorCode = "invalid_credentials"
	CodeEmailTaken            ErrorCode = "email_taken"
	CodeNetworkFailure        ErrorCode = "network_failure"
	CodeTokenExpired          ErrorCode = "token_expired"
	CodeTokenMalformed        ErrorCode = "token_malformed"
	CodeTokenSignatureInvalid ErrorCode = "token_signature_invalid"
	CodeNotAuthenticated      ErrorCode = "not_authenticated"
	CodeInvalidInput          ErrorCode = "invalid_input"
	CodeOAuthUnsupported      ErrorCode = "oauth_unsupported"
	CodeUnknown               ErrorCode = "unknown"
)

var knownCodes = map[ErrorCode]struct{}{
	CodeInvalidCredentials:    {},
	CodeEmailTaken:            {},
	CodeNetworkFailure:        {},
	CodeTokenExpired:          {},
	CodeTokenMalformed:        {},
	CodeTokenSignatureInvalid: {},
	CodeNotAuthenticated:      {},
	CodeInvalidInput:          {},
	CodeOAuthUnsupported:      {},
	CodeUnknown:               {},
}

// ParseErrorCode normalizes a code received over the wire. Unrecognized values
// collapse to CodeUnknown.
func ParseErrorCode(s string) ErrorCode {
	code := ErrorCode(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownCodes[code]; ok {
		return code
	}
	return CodeUnknown
}

// ErrInvalidCredentials is returned when the provider rejects email/password
var ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode(string(CodeInvalidCredentials)).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailTaken is returned on signup when the email is already registered
var ErrEmailTaken = goerrors.New("email is already registered", goerrors.CategoryConflict).
	WithTextCode(string(CodeEmailTaken)).
	WithCode(goerrors.CodeConflict)

// ErrNetworkFailure wraps transport level failures against the identity service
var ErrNetworkFailure = goerrors.New("identity service unreachable", goerrors.CategoryInternal).
	WithTextCode(string(CodeNetworkFailure)).
	WithCode(http.StatusBadGateway)

// ErrTokenExpired is returned for tokens past their expiration
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(string(CodeTokenExpired)).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned for tokens that cannot be parsed or lack required claims
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(string(CodeTokenMalformed)).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenSignatureInvalid is returned when a token signature does not verify
var ErrTokenSignatureInvalid = goerrors.New("token signature is invalid", goerrors.CategoryAuthz).
	WithTextCode(string(CodeTokenSignatureInvalid)).
	WithCode(goerrors.CodeForbidden)

// ErrNotAuthenticated is returned when an operation requires a session and there is none
var ErrNotAuthenticated = goerrors.New("not authenticated", goerrors.CategoryAuth).
	WithTextCode(string(CodeNotAuthenticated)).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidInput is returned when a request payload fails validation
var ErrInvalidInput = goerrors.New("invalid input", goerrors.CategoryValidation).
	WithTextCode(string(CodeInvalidInput)).
	WithCode(goerrors.CodeBadRequest)

// ErrOAuthUnsupported is returned when the provider has no OAuth capability
var ErrOAuthUnsupported = goerrors.New("oauth login is not supported by this provider", goerrors.CategoryBadInput).
	WithTextCode(string(CodeOAuthUnsupported)).
	WithCode(goerrors.CodeBadRequest)

// ErrUnknown is the fallback for failures without a more specific code
var ErrUnknown = goerrors.New("unexpected authentication error", goerrors.CategoryInternal).
	WithTextCode(string(CodeUnknown)).
	WithCode(http.StatusInternalServerError)

// ErrInvalidSession signals a local invariant violation: a session without a
// user or an access token was handed to the SessionManager.
var ErrInvalidSession = errors.New("session requires a user id and an access token")

// NewError returns a fresh error for the given code carrying message.
func NewError(code ErrorCode, message string) *goerrors.Error {
	base := sentinelFor(code).Clone()
	if message != "" {
		base.Message = message
	}
	return base
}

// WrapError returns a fresh error for code with err as its source
func WrapError(err error, code ErrorCode) *goerrors.Error {
	base := sentinelFor(code).Clone()
	base.Source = err
	return base
}

func sentinelFor(code ErrorCode) *goerrors.Error {
	switch code {
	case CodeInvalidCredentials:
		return ErrInvalidCredentials
	case CodeEmailTaken:
		return ErrEmailTaken
	case CodeNetworkFailure:
		return ErrNetworkFailure
	case CodeTokenExpired:
		return ErrTokenExpired
	case CodeTokenMalformed:
		return ErrTokenMalformed
	case CodeTokenSignatureInvalid:
		return ErrTokenSignatureInvalid
	case CodeNotAuthenticated:
		return ErrNotAuthenticated
	case CodeInvalidInput:
		return ErrInvalidInput
	case CodeOAuthUnsupported:
		return ErrOAuthUnsupported
	default:
		return ErrUnknown
	}
}

// CodeOf maps any error to an ErrorCode. Rich errors carry their code as the
// text code; jwt and context errors are translated.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode != "" {
		code := ErrorCode(richErr.TextCode)
		if _, ok := knownCodes[code]; ok {
			return code
		}
	}

	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrEd25519Verification),
		errors.Is(err, jwt.ErrECDSAVerification),
		errors.Is(err, jwt.ErrHashUnavailable):
		return CodeTokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenInvalidClaims),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return CodeTokenMalformed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeNetworkFailure
	}

	return CodeUnknown
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	return CodeOf(err) == CodeTokenExpired
}

// IsMalformedError will check for malformed tokens
func IsMalformedError(err error) bool {
	return CodeOf(err) == CodeTokenMalformed
}
