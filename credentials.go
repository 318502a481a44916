package access

import (
	"context"
	"database/sql"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MaxLoginAttempts is the maximum number of failed attempts an account gets
// in a CoolDownPeriod.
var MaxLoginAttempts = 5

// CoolDownPeriod is the period in which we enforce a cool down
var CoolDownPeriod = "24h"

// CredentialTokenTTL is how long verification and reset links stay valid.
var CredentialTokenTTL = 24 * time.Hour

// TokenPurpose tells verification and reset tokens apart.
type TokenPurpose string

const (
	TokenPurposeVerifyEmail   TokenPurpose = "verify_email"
	TokenPurposePasswordReset TokenPurpose = "password_reset"
)

// TokenStatus tracks single use tokens.
type TokenStatus string

const (
	TokenStatusRequested TokenStatus = "requested"
	TokenStatusUsed      TokenStatus = "used"
)

// Credential is a local account. It holds the password hash and nothing
// about the hospital.
type Credential struct {
	bun.BaseModel `bun:"table:credentials,alias:crd"`

	ID             uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Email          string     `bun:"email,notnull,unique" json:"email"`
	PasswordHash   string     `bun:"password_hash,notnull" json:"-"`
	EmailVerified  bool       `bun:"email_verified,notnull,default:false" json:"email_verified"`
	LoginAttempts  int        `bun:"login_attempts,notnull,default:0" json:"-"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at,nullzero" json:"-"`
	LoggedInAt     *time.Time `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`
}

// CredentialToken is a single use email verification or password reset token.
type CredentialToken struct {
	bun.BaseModel `bun:"table:credential_tokens,alias:crt"`

	ID           uuid.UUID    `bun:"id,pk,type:uuid" json:"id"`
	CredentialID uuid.UUID    `bun:"credential_id,notnull,type:uuid" json:"credential_id"`
	Purpose      TokenPurpose `bun:"purpose,notnull" json:"purpose"`
	Status       TokenStatus  `bun:"status,notnull" json:"status"`
	ExpiresAt    time.Time    `bun:"expires_at,notnull" json:"expires_at"`
	UsedAt       *time.Time   `bun:"used_at,nullzero" json:"used_at,omitempty"`
	CreatedAt    *time.Time   `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
}

// LocalCredentialStore is a CredentialStore over the credentials tables.
// Tokens are delivered through a Notifier.
type LocalCredentialStore struct {
	db         *bun.DB
	sessions   *Sessions
	notifier   Notifier
	bcryptCost int
	dummyHash  string
	compare    func(password, hash string) error
	now        func() time.Time
	logger     Logger
	provider   LoggerProvider
}

var _ CredentialStore = (*LocalCredentialStore)(nil)

// LocalCredentialOption customizes a LocalCredentialStore.
type LocalCredentialOption func(*LocalCredentialStore)

// WithNotifier sets the notifier that delivers tokens.
func WithNotifier(n Notifier) LocalCredentialOption {
	return func(s *LocalCredentialStore) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithBcryptCost overrides the password hash cost.
func WithBcryptCost(cost int) LocalCredentialOption {
	return func(s *LocalCredentialStore) {
		s.bcryptCost = cost
	}
}

// WithCredentialsClock injects a custom clock.
func WithCredentialsClock(clock func() time.Time) LocalCredentialOption {
	return func(s *LocalCredentialStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithCredentialsLogger overrides the logger.
func WithCredentialsLogger(logger Logger) LocalCredentialOption {
	return func(s *LocalCredentialStore) {
		s.provider, s.logger = ResolveLogger("access.credentials", s.provider, logger)
	}
}

// WithCredentialsLoggerProvider resolves the logger from a provider.
func WithCredentialsLoggerProvider(provider LoggerProvider) LocalCredentialOption {
	return func(s *LocalCredentialStore) {
		s.provider, s.logger = ResolveLogger("access.credentials", provider, s.logger)
	}
}

// NewLocalCredentialStore creates a credential store over db. Sessions are
// issued and resolved through sessions.
func NewLocalCredentialStore(db *bun.DB, sessions *Sessions, opts ...LocalCredentialOption) *LocalCredentialStore {
	provider, logger := ResolveLogger("access.credentials", nil, nil)
	s := &LocalCredentialStore{
		db:         db,
		sessions:   sessions,
		bcryptCost: passwordHashCost(),
		compare:    ComparePasswordAndHash,
		now:        time.Now,
		logger:     logger,
		provider:   provider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(s.logger)
	}
	if hash, err := HashPasswordWithCost(uuid.NewString(), s.bcryptCost); err == nil {
		s.dummyHash = hash
	}
	return s
}

func (s *LocalCredentialStore) CreateAccount(ctx context.Context, email, password string) (Identity, error) {
	hash, err := HashPasswordWithCost(password, s.bcryptCost)
	if err != nil {
		return Identity{}, NewValidationError(err, "Invalid password")
	}

	now := s.now()
	record := &Credential{
		ID:           uuid.New(),
		Email:        NormalizeEmail(email),
		PasswordHash: hash,
		CreatedAt:    &now,
		UpdatedAt:    &now,
	}

	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if IsUniqueViolation(err) {
			return Identity{}, NewDuplicateEmailError(MessageDuplicateEmail)
		}
		return Identity{}, NewInternalError(err, "failed to create account")
	}

	return credentialIdentity(record), nil
}

func (s *LocalCredentialStore) DeleteAccount(ctx context.Context, identityID string) error {
	id, err := uuid.Parse(identityID)
	if err != nil {
		return nil
	}

	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*CredentialToken)(nil)).Where("credential_id = ?", id).Exec(ctx); err != nil {
			return NewInternalError(err, "failed to delete account tokens")
		}
		if _, err := tx.NewDelete().Model((*Credential)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
			return NewInternalError(err, "failed to delete account")
		}
		return nil
	})
}

func (s *LocalCredentialStore) AccountExists(ctx context.Context, email string) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*Credential)(nil)).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Exists(ctx)
	if err != nil {
		return false, NewInternalError(err, "failed to check account")
	}
	return exists, nil
}

// Authenticate returns the same error for an unknown email, a wrong
// password, and an account in cool down.
func (s *LocalCredentialStore) Authenticate(ctx context.Context, email, password string) (Identity, error) {
	record, err := s.findByEmail(ctx, s.db, email)
	if err != nil {
		if isNotFound(err) {
			s.compareDummy(password)
			return Identity{}, NewInvalidCredentialsError()
		}
		return Identity{}, NewInternalError(err, "failed to load account")
	}

	if record.LoginAttemptAt != nil {
		within, err := isWithinThreshold(s.now(), *record.LoginAttemptAt, CoolDownPeriod)
		if err != nil {
			return Identity{}, NewInternalError(err, "failed to calculate login attempt cooldown")
		}
		if !within {
			record.LoginAttempts = 0
		}
	}

	if record.LoginAttempts >= MaxLoginAttempts {
		args := []any{"credential_id", record.ID.String()}
		if record.LoginAttemptAt != nil {
			if until, err := CoolDownEndsAt(*record.LoginAttemptAt); err == nil {
				args = append(args, "retry_at", until.Format(time.RFC3339))
			}
		}
		s.logger.Warn("login attempt during cool down", args...)
		s.compareDummy(password)
		return Identity{}, NewInvalidCredentialsError()
	}

	if err := s.compare(password, record.PasswordHash); err != nil {
		if err := s.trackAttemptedLogin(ctx, record); err != nil {
			return Identity{}, NewInternalError(err, "failed to track login attempt")
		}
		return Identity{}, NewInvalidCredentialsError()
	}

	if err := s.trackSuccessfulLogin(ctx, record); err != nil {
		s.logger.Error("failed to track successful login", "error", err)
	}

	return credentialIdentity(record), nil
}

// compareDummy spends the same bcrypt work as a real comparison so
// rejected logins take the same time whether or not the account exists.
func (s *LocalCredentialStore) compareDummy(password string) {
	if s.dummyHash == "" {
		return
	}
	_ = s.compare(password, s.dummyHash)
}

func (s *LocalCredentialStore) SendVerification(ctx context.Context, email string) error {
	record, err := s.findByEmail(ctx, s.db, email)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return NewInternalError(err, "failed to load account")
	}

	if record.EmailVerified {
		return nil
	}

	token, err := s.createToken(ctx, s.db, record.ID, TokenPurposeVerifyEmail)
	if err != nil {
		return err
	}

	return s.notifier.SendVerification(ctx, record.Email, token.ID.String())
}

func (s *LocalCredentialStore) ConfirmEmail(ctx context.Context, token string) (Identity, error) {
	var identity Identity
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		record, err := s.consumeToken(ctx, tx, token, TokenPurposeVerifyEmail)
		if err != nil {
			return err
		}

		now := s.now()
		record.EmailVerified = true
		record.UpdatedAt = &now
		if _, err := tx.NewUpdate().Model(record).Column("email_verified", "updated_at").WherePK().Exec(ctx); err != nil {
			return NewInternalError(err, "failed to confirm email")
		}

		identity = credentialIdentity(record)
		return nil
	})
	if err != nil {
		return Identity{}, asRichError(err, "failed to confirm email")
	}
	return identity, nil
}

func (s *LocalCredentialStore) SendPasswordReset(ctx context.Context, email string) error {
	record, err := s.findByEmail(ctx, s.db, email)
	if err != nil {
		if isNotFound(err) {
			s.logger.Debug("password reset requested for unknown email")
			return nil
		}
		return NewInternalError(err, "failed to load account")
	}

	token, err := s.createToken(ctx, s.db, record.ID, TokenPurposePasswordReset)
	if err != nil {
		return err
	}

	return s.notifier.SendPasswordReset(ctx, record.Email, token.ID.String())
}

// ResetPassword consumes a reset token, stores the new hash, and revokes
// every session of the account.
func (s *LocalCredentialStore) ResetPassword(ctx context.Context, token, newPassword string) (Identity, error) {
	hash, err := HashPasswordWithCost(newPassword, s.bcryptCost)
	if err != nil {
		return Identity{}, NewValidationError(err, "Invalid password")
	}

	var identity Identity
	err = s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		record, err := s.consumeToken(ctx, tx, token, TokenPurposePasswordReset)
		if err != nil {
			return err
		}

		now := s.now()
		record.PasswordHash = hash
		record.LoginAttempts = 0
		record.LoginAttemptAt = nil
		record.UpdatedAt = &now
		_, err = tx.NewUpdate().
			Model(record).
			Column("password_hash", "login_attempts", "login_attempt_at", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return NewInternalError(err, "failed to update password")
		}

		identity = credentialIdentity(record)
		return nil
	})
	if err != nil {
		return Identity{}, asRichError(err, "failed to reset password")
	}

	if s.sessions != nil {
		if err := s.sessions.InvalidateAll(ctx, identity.ID); err != nil {
			s.logger.Error("failed to revoke sessions after password reset", "error", err)
		}
	}

	return identity, nil
}

func (s *LocalCredentialStore) IssueSession(ctx context.Context, identity Identity) (SessionToken, error) {
	if s.sessions == nil {
		return SessionToken{}, NewNotSupportedError("IssueSession")
	}
	return s.sessions.Issue(ctx, identity.ID)
}

func (s *LocalCredentialStore) ResolveSession(ctx context.Context, token string) (string, error) {
	if s.sessions == nil {
		return "", NewNotSupportedError("ResolveSession")
	}
	return s.sessions.Resolve(ctx, token)
}

func (s *LocalCredentialStore) InvalidateSession(ctx context.Context, token string) error {
	if s.sessions == nil {
		return nil
	}
	return s.sessions.Invalidate(ctx, token)
}

func (s *LocalCredentialStore) findByEmail(ctx context.Context, db bun.IDB, email string) (*Credential, error) {
	record := &Credential{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *LocalCredentialStore) createToken(ctx context.Context, db bun.IDB, credentialID uuid.UUID, purpose TokenPurpose) (*CredentialToken, error) {
	now := s.now()
	token := &CredentialToken{
		ID:           uuid.New(),
		CredentialID: credentialID,
		Purpose:      purpose,
		Status:       TokenStatusRequested,
		ExpiresAt:    now.Add(CredentialTokenTTL),
		CreatedAt:    &now,
	}
	if _, err := db.NewInsert().Model(token).Exec(ctx); err != nil {
		return nil, NewInternalError(err, "failed to create token")
	}
	return token, nil
}

// consumeToken marks a requested token as used and returns its account.
func (s *LocalCredentialStore) consumeToken(ctx context.Context, tx bun.IDB, raw string, purpose TokenPurpose) (*Credential, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, NewTokenInvalidError()
	}

	token := &CredentialToken{}
	err = tx.NewSelect().
		Model(token).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.purpose = ?", purpose).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, NewTokenInvalidError()
		}
		return nil, NewInternalError(err, "failed to load token")
	}

	if token.Status != TokenStatusRequested {
		return nil, NewTokenInvalidError()
	}

	now := s.now()
	if !token.ExpiresAt.After(now) {
		return nil, NewTokenExpiredError()
	}

	res, err := tx.NewUpdate().
		Model((*CredentialToken)(nil)).
		Set("status = ?", TokenStatusUsed).
		Set("used_at = ?", now).
		Where("id = ?", token.ID).
		Where("status = ?", TokenStatusRequested).
		Exec(ctx)
	if err != nil {
		return nil, NewInternalError(err, "failed to consume token")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, NewTokenInvalidError()
	}

	record := &Credential{}
	if err := tx.NewSelect().Model(record).Where("?TableAlias.id = ?", token.CredentialID).Limit(1).Scan(ctx); err != nil {
		if isNotFound(err) {
			return nil, NewTokenInvalidError()
		}
		return nil, NewInternalError(err, "failed to load account")
	}

	return record, nil
}

func (s *LocalCredentialStore) trackAttemptedLogin(ctx context.Context, record *Credential) error {
	now := s.now()
	record.LoginAttempts++
	record.LoginAttemptAt = &now
	_, err := s.db.NewUpdate().
		Model(record).
		Column("login_attempts", "login_attempt_at").
		WherePK().
		Exec(ctx)
	return err
}

func (s *LocalCredentialStore) trackSuccessfulLogin(ctx context.Context, record *Credential) error {
	now := s.now()
	record.LoginAttempts = 0
	record.LoginAttemptAt = nil
	record.LoggedInAt = &now
	_, err := s.db.NewUpdate().
		Model(record).
		Column("login_attempts", "login_attempt_at", "loggedin_at").
		WherePK().
		Exec(ctx)
	return err
}

func credentialIdentity(record *Credential) Identity {
	return Identity{
		ID:            record.ID.String(),
		Email:         record.Email,
		EmailVerified: record.EmailVerified,
	}
}

// LogNotifier writes verification and reset links to the log. It is the
// default when no mail delivery is configured. Info entries carry a masked
// token; the usable link is only logged at debug level.
type LogNotifier struct {
	logger  Logger
	BaseURL string
}

// NewLogNotifier returns a notifier that logs tokens.
func NewLogNotifier(logger Logger) *LogNotifier {
	if logger == nil {
		logger = defLogger{}
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendVerification(_ context.Context, email, token string) error {
	n.log("email verification requested", email, "/email/verify", token)
	return nil
}

func (n *LogNotifier) SendPasswordReset(_ context.Context, email, token string) error {
	n.log("password reset requested", email, "/password/reset", token)
	return nil
}

func (n *LogNotifier) log(msg, email, path, token string) {
	base := strings.TrimSuffix(n.BaseURL, "/") + path + "?token="
	n.logger.Info(msg, "email", email, "link", base+MaskToken(token))
	n.logger.Debug(msg, "email", email, "link", base+url.QueryEscape(token))
}

// MaskToken keeps a short prefix of a secret token for correlation.
func MaskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}

// NotifierFunc adapts a single function to both Notifier methods.
type NotifierFunc func(ctx context.Context, purpose TokenPurpose, email, token string) error

func (f NotifierFunc) SendVerification(ctx context.Context, email, token string) error {
	return f(ctx, TokenPurposeVerifyEmail, email, token)
}

func (f NotifierFunc) SendPasswordReset(ctx context.Context, email, token string) error {
	return f(ctx, TokenPurposePasswordReset, email, token)
}
