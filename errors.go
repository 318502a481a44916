package access

import (
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/jackc/pgx/v5/pgconn"
)

// Text codes carried by every error this package returns.
const (
	TextCodeValidation        = "VALIDATION_FAILED"
	TextCodeDuplicateTenant   = "DUPLICATE_TENANT"
	TextCodeDuplicateEmail    = "DUPLICATE_EMAIL"
	TextCodeTenantMismatch    = "TENANT_MISMATCH"
	TextCodePermission        = "PERMISSION_DENIED"
	TextCodeInvalidTransition = "INVALID_STATUS_TRANSITION"
	TextCodeTerminalStatus    = "TERMINAL_STATUS"
	TextCodeInvalidCredential = "INVALID_CREDENTIALS"
	TextCodeProfileMissing    = "PROFILE_MISSING"
	TextCodeAccountPending    = "ACCOUNT_PENDING"
	TextCodeAccountRejected   = "ACCOUNT_REJECTED"
	TextCodeAccountSuspended  = "ACCOUNT_SUSPENDED"
	TextCodeEmailNotVerified  = "EMAIL_NOT_VERIFIED"
	TextCodeTokenInvalid      = "TOKEN_INVALID"
	TextCodeTokenExpired      = "TOKEN_EXPIRED"
	TextCodeNotSupported      = "NOT_SUPPORTED"
	TextCodeInternal          = "INTERNAL_ERROR"
)

// User facing messages. They never carry internal state.
const (
	MessageInvalidCredentials = "Invalid email or password"
	MessageAccountPending     = "Your account is pending approval. Please contact your hospital administrator."
	MessageAccountRejected    = "Your access request has been rejected."
	MessageAccountSuspended   = "Your account has been suspended."
	MessageEmailNotVerified   = "Please verify your email address before signing in."
	MessageDuplicateEmail     = "An account with this email already exists."
	MessageDuplicateAdmin     = "An account with this admin email already exists."
	MessageTenantMismatch     = "The provided Hospital Name and Hospital ID do not match a registered hospital. Please verify the details and try again."
	MessagePermission         = "You do not have permission to perform this action."
	MessageInvalidTransition  = "This action is not allowed for the account's current status."
	MessageProfileMissing     = "We could not load your profile. Please contact support."
	MessageTokenInvalid       = "This link is invalid or has already been used."
	MessageTokenExpired       = "This link has expired. Please request a new one."
	MessageInternal           = "Something went wrong. Please try again later."
)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = errors.New("password must not be empty")

// NewValidationError wraps a validation failure produced before any store access.
func NewValidationError(err error, message string) *goerrors.Error {
	if message == "" {
		message = "Invalid request"
	}
	if err == nil {
		return goerrors.New(message, goerrors.CategoryValidation).
			WithTextCode(TextCodeValidation).
			WithCode(goerrors.CodeBadRequest)
	}
	return goerrors.Wrap(err, goerrors.CategoryValidation, message).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest)
}

// NewDuplicateTenantError reports a hospital name collision.
func NewDuplicateTenantError(name string) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("Hospital %q is already registered.", strings.TrimSpace(name)), goerrors.CategoryConflict).
		WithTextCode(TextCodeDuplicateTenant).
		WithCode(goerrors.CodeConflict)
}

// NewDuplicateEmailError reports an email collision. message defaults to MessageDuplicateEmail.
func NewDuplicateEmailError(message string) *goerrors.Error {
	if message == "" {
		message = MessageDuplicateEmail
	}
	return goerrors.New(message, goerrors.CategoryConflict).
		WithTextCode(TextCodeDuplicateEmail).
		WithCode(goerrors.CodeConflict)
}

// NewTenantMismatchError never says which of id or name was wrong.
func NewTenantMismatchError() *goerrors.Error {
	return goerrors.New(MessageTenantMismatch, goerrors.CategoryNotFound).
		WithTextCode(TextCodeTenantMismatch).
		WithCode(goerrors.CodeNotFound)
}

// NewPermissionError is generic on purpose: no tenant data, no identifiers.
func NewPermissionError() *goerrors.Error {
	return goerrors.New(MessagePermission, goerrors.CategoryAuthz).
		WithTextCode(TextCodePermission).
		WithCode(goerrors.CodeForbidden)
}

// NewInvalidTransitionError reports a status change outside the allowed edges.
func NewInvalidTransitionError(from UserStatus, event StatusEvent) *goerrors.Error {
	code := TextCodeInvalidTransition
	if from == UserStatusRejected {
		code = TextCodeTerminalStatus
	}
	return goerrors.New(MessageInvalidTransition, goerrors.CategoryConflict).
		WithTextCode(code).
		WithCode(goerrors.CodeConflict).
		WithMetadata(map[string]any{
			"current_status": string(from),
			"event":          string(event),
		})
}

// NewInvalidCredentialsError is the single answer to every failed authentication.
func NewInvalidCredentialsError() *goerrors.Error {
	return goerrors.New(MessageInvalidCredentials, goerrors.CategoryAuth).
		WithTextCode(TextCodeInvalidCredential).
		WithCode(goerrors.CodeUnauthorized)
}

// NewProfileMissingError flags an identity without a user profile.
func NewProfileMissingError(identityID string) *goerrors.Error {
	return goerrors.New(MessageProfileMissing, goerrors.CategoryInternal).
		WithTextCode(TextCodeProfileMissing).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{"identity_id": identityID})
}

// NewAccountStatusError explains why an authenticated doctor cannot sign in.
func NewAccountStatusError(status UserStatus) *goerrors.Error {
	message, code := MessageAccountPending, TextCodeAccountPending
	switch status {
	case UserStatusRejected:
		message, code = MessageAccountRejected, TextCodeAccountRejected
	case UserStatusSuspended:
		message, code = MessageAccountSuspended, TextCodeAccountSuspended
	}
	return goerrors.New(message, goerrors.CategoryAuthz).
		WithTextCode(code).
		WithCode(goerrors.CodeForbidden)
}

// NewEmailNotVerifiedError is returned by Login when verification is enforced.
func NewEmailNotVerifiedError() *goerrors.Error {
	return goerrors.New(MessageEmailNotVerified, goerrors.CategoryAuthz).
		WithTextCode(TextCodeEmailNotVerified).
		WithCode(goerrors.CodeForbidden)
}

// NewTokenInvalidError covers unknown, used, or tampered tokens.
func NewTokenInvalidError() *goerrors.Error {
	return goerrors.New(MessageTokenInvalid, goerrors.CategoryBadInput).
		WithTextCode(TextCodeTokenInvalid).
		WithCode(goerrors.CodeBadRequest)
}

// NewTokenExpiredError covers tokens past their validity window.
func NewTokenExpiredError() *goerrors.Error {
	return goerrors.New(MessageTokenExpired, goerrors.CategoryBadInput).
		WithTextCode(TextCodeTokenExpired).
		WithCode(goerrors.CodeBadRequest)
}

// NewNotSupportedError is returned by credential stores lacking a capability.
func NewNotSupportedError(operation string) *goerrors.Error {
	return goerrors.New(MessageInternal, goerrors.CategoryOperation).
		WithTextCode(TextCodeNotSupported).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{"operation": operation})
}

// NewInternalError wraps an unexpected failure, keeping the cause for logs only.
func NewInternalError(err error, message string) *goerrors.Error {
	if err == nil {
		err = errors.New(message)
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithTextCode(TextCodeInternal).
		WithCode(goerrors.CodeInternal)
}

// TextCodeOf returns the text code of a rich error, or "" for anything else.
func TextCodeOf(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil {
		return rich.TextCode
	}
	return ""
}

// HasTextCode reports whether err carries the given text code.
func HasTextCode(err error, code string) bool {
	return err != nil && TextCodeOf(err) == code
}

// asRichError passes rich errors through and wraps the rest as internal.
func asRichError(err error, message string) error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil && rich.TextCode != "" {
		return rich
	}
	return NewInternalError(err, message)
}

// IsUniqueViolation detects unique constraint failures reported by the store
// at write time: Postgres SQLSTATE 23505, SQLite constraint errors, or a
// conflict categorized rich error.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}

	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint") {
		return true
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil && rich.Category == goerrors.CategoryConflict && rich.TextCode == "" {
		return true
	}

	return false
}

// uniqueViolationOn narrows IsUniqueViolation to a column or constraint name.
func uniqueViolationOn(err error, names ...string) bool {
	if !IsUniqueViolation(err) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		for _, n := range names {
			if strings.Contains(pgErr.ConstraintName, n) || strings.Contains(pgErr.Detail, n) {
				return true
			}
		}
		return false
	}

	msg := err.Error()
	for _, n := range names {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}
