package access

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultSessionTTL is used when no session lifetime is configured.
const DefaultSessionTTL = 24 * time.Hour

// SessionRecord is the server side half of a session token.
type SessionRecord struct {
	bun.BaseModel `bun:"table:sessions,alias:ses"`

	ID         uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	IdentityID string     `bun:"identity_id,notnull" json:"identity_id"`
	ExpiresAt  time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	RevokedAt  *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
	CreatedAt  *time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
}

// SessionStore tracks which sessions are still active.
type SessionStore interface {
	Create(ctx context.Context, record *SessionRecord) error
	// Active returns the identity id behind an unexpired, unrevoked session.
	Active(ctx context.Context, id uuid.UUID) (string, error)
	// Revoke is idempotent.
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeAll(ctx context.Context, identityID string) error
}

// SessionClaims are the JWT claims of a session token. The token id is the
// session record id and the subject is the identity id.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// Sessions issues signed session tokens backed by a SessionStore.
type Sessions struct {
	store      SessionStore
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	ttl        time.Duration
	now        func() time.Time
	logger     Logger
	provider   LoggerProvider
}

// SessionsOption customizes Sessions.
type SessionsOption func(*Sessions)

// WithSessionTTL sets the token lifetime.
func WithSessionTTL(ttl time.Duration) SessionsOption {
	return func(s *Sessions) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSessionIssuer sets the iss claim.
func WithSessionIssuer(issuer string) SessionsOption {
	return func(s *Sessions) {
		s.issuer = issuer
	}
}

// WithSessionAudience sets the aud claim.
func WithSessionAudience(audience ...string) SessionsOption {
	return func(s *Sessions) {
		s.audience = jwt.ClaimStrings(audience)
	}
}

// WithSessionsClock injects a custom clock.
func WithSessionsClock(clock func() time.Time) SessionsOption {
	return func(s *Sessions) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSessionsLogger overrides the logger.
func WithSessionsLogger(logger Logger) SessionsOption {
	return func(s *Sessions) {
		s.provider, s.logger = ResolveLogger("access.sessions", s.provider, logger)
	}
}

// WithSessionsLoggerProvider resolves the logger from a provider.
func WithSessionsLoggerProvider(provider LoggerProvider) SessionsOption {
	return func(s *Sessions) {
		s.provider, s.logger = ResolveLogger("access.sessions", provider, s.logger)
	}
}

// NewSessions creates a session issuer signing HS256 tokens with signingKey.
func NewSessions(store SessionStore, signingKey []byte, opts ...SessionsOption) *Sessions {
	provider, logger := ResolveLogger("access.sessions", nil, nil)
	s := &Sessions{
		store:      store,
		signingKey: signingKey,
		ttl:        DefaultSessionTTL,
		now:        time.Now,
		logger:     logger,
		provider:   provider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Issue creates a session for identityID and returns its signed token.
func (s *Sessions) Issue(ctx context.Context, identityID string) (SessionToken, error) {
	now := s.now()
	record := &SessionRecord{
		ID:         uuid.New(),
		IdentityID: identityID,
		ExpiresAt:  now.Add(s.ttl),
		CreatedAt:  &now,
	}

	if err := s.store.Create(ctx, record); err != nil {
		return SessionToken{}, NewInternalError(err, "failed to store session")
	}

	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        record.ID.String(),
			Issuer:    s.issuer,
			Subject:   identityID,
			Audience:  s.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(record.ExpiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return SessionToken{}, NewInternalError(err, "failed to sign session token")
	}

	return SessionToken{Token: signed, ExpiresAt: record.ExpiresAt}, nil
}

// Resolve validates the token and checks the session is still active.
func (s *Sessions) Resolve(ctx context.Context, token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", err
	}

	id, err := uuid.Parse(claims.ID)
	if err != nil {
		return "", NewTokenInvalidError()
	}

	identityID, err := s.store.Active(ctx, id)
	if err != nil {
		return "", asRichError(err, "failed to resolve session")
	}

	if identityID != claims.Subject {
		s.logger.Warn("session subject mismatch", "session_id", id.String())
		return "", NewTokenInvalidError()
	}

	return identityID, nil
}

// Invalidate revokes the session behind token. Unknown, expired, or
// malformed tokens are ignored.
func (s *Sessions) Invalidate(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		if HasTextCode(err, TextCodeTokenExpired) || HasTextCode(err, TextCodeTokenInvalid) {
			return nil
		}
		return err
	}

	id, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil
	}

	if err := s.store.Revoke(ctx, id); err != nil {
		return NewInternalError(err, "failed to revoke session")
	}
	return nil
}

// InvalidateAll revokes every session of an identity.
func (s *Sessions) InvalidateAll(ctx context.Context, identityID string) error {
	if err := s.store.RevokeAll(ctx, identityID); err != nil {
		return NewInternalError(err, "failed to revoke sessions")
	}
	return nil
}

func (s *Sessions) parse(token string) (*SessionClaims, error) {
	if token == "" {
		return nil, NewTokenInvalidError()
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if s.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(s.issuer))
	}
	if len(s.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(s.audience...))
	}

	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, parserOptions...)
	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, NewTokenExpiredError()
		}
		return nil, NewTokenInvalidError()
	}

	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, NewTokenInvalidError()
	}
	return claims, nil
}

// bunSessionStore keeps sessions in the sessions table.
type bunSessionStore struct {
	db  bun.IDB
	now func() time.Time
}

// NewBunSessionStore returns a SessionStore over db.
func NewBunSessionStore(db bun.IDB) SessionStore {
	return &bunSessionStore{db: db, now: time.Now}
}

func (s *bunSessionStore) Create(ctx context.Context, record *SessionRecord) error {
	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	return err
}

func (s *bunSessionStore) Active(ctx context.Context, id uuid.UUID) (string, error) {
	record := &SessionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.revoked_at IS NULL").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return "", NewTokenInvalidError()
		}
		return "", err
	}

	if !record.ExpiresAt.After(s.now()) {
		return "", NewTokenExpiredError()
	}
	return record.IdentityID, nil
}

func (s *bunSessionStore) Revoke(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.NewUpdate().
		Model((*SessionRecord)(nil)).
		Set("revoked_at = ?", s.now()).
		Where("id = ?", id).
		Where("revoked_at IS NULL").
		Exec(ctx)
	return err
}

func (s *bunSessionStore) RevokeAll(ctx context.Context, identityID string) error {
	_, err := s.db.NewUpdate().
		Model((*SessionRecord)(nil)).
		Set("revoked_at = ?", s.now()).
		Where("identity_id = ?", identityID).
		Where("revoked_at IS NULL").
		Exec(ctx)
	return err
}
