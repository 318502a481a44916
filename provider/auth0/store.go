package auth0

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/goliatone/go-access"
)

// Account is an Auth0 user as seen by the store.
type Account struct {
	ID            string
	Email         string
	EmailVerified bool
}

// Directory manages accounts through the Management API.
type Directory interface {
	CreateUser(ctx context.Context, email, password string) (Account, error)
	DeleteUser(ctx context.Context, id string) error
	// FindByEmail returns nil when no account uses the email.
	FindByEmail(ctx context.Context, email string) (*Account, error)
	SendVerificationEmail(ctx context.Context, id string) error
}

// PasswordAuthenticator talks to the Authentication API.
type PasswordAuthenticator interface {
	LoginWithPassword(ctx context.Context, email, password string) error
	RequestPasswordReset(ctx context.Context, email string) error
}

// Store implements access.CredentialStore backed by Auth0.
type Store struct {
	directory Directory
	passwords PasswordAuthenticator
	sessions  *access.Sessions
	logger    access.Logger
	provider  access.LoggerProvider
}

var _ access.CredentialStore = (*Store)(nil)

// Option customizes the store.
type Option func(*Store)

// WithLogger overrides the store logger.
func WithLogger(logger access.Logger) Option {
	return func(s *Store) {
		s.provider, s.logger = access.ResolveLogger("access.auth0", s.provider, logger)
	}
}

// WithLoggerProvider resolves the store logger from a provider.
func WithLoggerProvider(provider access.LoggerProvider) Option {
	return func(s *Store) {
		s.provider, s.logger = access.ResolveLogger("access.auth0", provider, s.logger)
	}
}

// New returns a store. sessions may be nil, in which case session
// operations report NOT_SUPPORTED.
func New(directory Directory, passwords PasswordAuthenticator, sessions *access.Sessions, opts ...Option) *Store {
	provider, logger := access.ResolveLogger("access.auth0", nil, nil)
	s := &Store{
		directory: directory,
		passwords: passwords,
		sessions:  sessions,
		logger:    logger,
		provider:  provider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// NewFromConfig builds a store over the Auth0 SDK clients.
func NewFromConfig(ctx context.Context, cfg Config, sessions *access.Sessions, opts ...Option) (*Store, error) {
	directory, err := NewManagementDirectory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	passwords, err := NewPasswordClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(directory, passwords, sessions, opts...), nil
}

func (s *Store) CreateAccount(ctx context.Context, email, password string) (access.Identity, error) {
	account, err := s.directory.CreateUser(ctx, access.NormalizeEmail(email), password)
	if err != nil {
		switch statusOf(err) {
		case http.StatusConflict:
			return access.Identity{}, access.NewDuplicateEmailError(access.MessageDuplicateEmail)
		case http.StatusBadRequest:
			// password policy failures come back as 400
			return access.Identity{}, access.NewValidationError(err, "Invalid password")
		}
		return access.Identity{}, access.NewInternalError(err, "failed to create auth0 user")
	}
	return identityOf(account), nil
}

func (s *Store) DeleteAccount(ctx context.Context, identityID string) error {
	if strings.TrimSpace(identityID) == "" {
		return nil
	}
	if err := s.directory.DeleteUser(ctx, identityID); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil
		}
		return access.NewInternalError(err, "failed to delete auth0 user")
	}
	return nil
}

func (s *Store) AccountExists(ctx context.Context, email string) (bool, error) {
	account, err := s.directory.FindByEmail(ctx, access.NormalizeEmail(email))
	if err != nil {
		return false, access.NewInternalError(err, "failed to look up auth0 user")
	}
	return account != nil, nil
}

func (s *Store) Authenticate(ctx context.Context, email, password string) (access.Identity, error) {
	email = access.NormalizeEmail(email)
	if err := s.passwords.LoginWithPassword(ctx, email, password); err != nil {
		switch statusOf(err) {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
			return access.Identity{}, access.NewInvalidCredentialsError()
		}
		return access.Identity{}, access.NewInternalError(err, "failed to authenticate with auth0")
	}

	account, err := s.directory.FindByEmail(ctx, email)
	if err != nil {
		return access.Identity{}, access.NewInternalError(err, "failed to look up auth0 user")
	}
	if account == nil {
		s.logger.Warn("auth0 accepted a password for an unknown user")
		return access.Identity{}, access.NewInvalidCredentialsError()
	}
	return identityOf(*account), nil
}

func (s *Store) SendVerification(ctx context.Context, email string) error {
	account, err := s.directory.FindByEmail(ctx, access.NormalizeEmail(email))
	if err != nil {
		return access.NewInternalError(err, "failed to look up auth0 user")
	}
	if account == nil || account.EmailVerified {
		return nil
	}
	if err := s.directory.SendVerificationEmail(ctx, account.ID); err != nil {
		return access.NewInternalError(err, "failed to send verification email")
	}
	return nil
}

// ConfirmEmail is handled by the Auth0 hosted verification page.
func (s *Store) ConfirmEmail(context.Context, string) (access.Identity, error) {
	return access.Identity{}, access.NewNotSupportedError("ConfirmEmail")
}

func (s *Store) SendPasswordReset(ctx context.Context, email string) error {
	if err := s.passwords.RequestPasswordReset(ctx, access.NormalizeEmail(email)); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil
		}
		return access.NewInternalError(err, "failed to request auth0 password reset")
	}
	return nil
}

// ResetPassword is handled by the Auth0 hosted reset page.
func (s *Store) ResetPassword(context.Context, string, string) (access.Identity, error) {
	return access.Identity{}, access.NewNotSupportedError("ResetPassword")
}

func (s *Store) IssueSession(ctx context.Context, identity access.Identity) (access.SessionToken, error) {
	if s.sessions == nil {
		return access.SessionToken{}, access.NewNotSupportedError("IssueSession")
	}
	return s.sessions.Issue(ctx, identity.ID)
}

func (s *Store) ResolveSession(ctx context.Context, token string) (string, error) {
	if s.sessions == nil {
		return "", access.NewNotSupportedError("ResolveSession")
	}
	return s.sessions.Resolve(ctx, token)
}

func (s *Store) InvalidateSession(ctx context.Context, token string) error {
	if s.sessions == nil {
		return nil
	}
	return s.sessions.Invalidate(ctx, token)
}

func identityOf(account Account) access.Identity {
	return access.Identity{
		ID:            account.ID,
		Email:         access.NormalizeEmail(account.Email),
		EmailVerified: account.EmailVerified,
	}
}

// statusOf extracts the HTTP status carried by SDK errors, or 0.
func statusOf(err error) int {
	var withStatus interface{ Status() int }
	if errors.As(err, &withStatus) {
		return withStatus.Status()
	}
	return 0
}
