package access

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Success messages returned in the response envelope.
const (
	MessageHospitalRegistered = "Hospital registered successfully."
	MessageAccessRequested    = "Your request has been sent to the hospital administrator for approval. You will be notified upon approval."
	MessageLoginSuccess       = "Login successful"
	MessageLogoutSuccess      = "Logout successful"
	MessageResetLinkSent      = "If a user with that email exists, a reset link has been sent."
	MessagePasswordReset      = "Your password has been reset. You can now sign in."
	MessageEmailVerified      = "Your email address has been verified."
	MessageDoctorApproved     = "Doctor approved."
	MessageDoctorRejected     = "Doctor rejected."
	MessageDoctorSuspended    = "Doctor suspended."
)

// DefaultOperationTimeout bounds every service operation.
const DefaultOperationTimeout = 10 * time.Second

// Service orchestrates the tenant directory, the user directory, and the
// credential store. It is safe for concurrent use.
type Service struct {
	tenants              TenantDirectory
	users                UserDirectory
	credentials          CredentialStore
	activity             ActivitySink
	requireVerifiedEmail bool
	timeout              time.Duration
	now                  func() time.Time
	logger               Logger
	provider             LoggerProvider
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithActivitySink sets the sink used to emit lifecycle events.
func WithActivitySink(sink ActivitySink) ServiceOption {
	return func(s *Service) {
		s.activity = normalizeActivitySink(sink)
	}
}

// WithRequireVerifiedEmail makes Login reject unverified identities.
func WithRequireVerifiedEmail(required bool) ServiceOption {
	return func(s *Service) {
		s.requireVerifiedEmail = required
	}
}

// WithOperationTimeout overrides DefaultOperationTimeout. Zero disables it.
func WithOperationTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.timeout = d
	}
}

// WithServiceClock injects a custom clock.
func WithServiceClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithLogger overrides the service logger.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		s.provider, s.logger = ResolveLogger("access.service", s.provider, logger)
	}
}

// WithLoggerProvider resolves the service logger from a provider.
func WithLoggerProvider(provider LoggerProvider) ServiceOption {
	return func(s *Service) {
		s.provider, s.logger = ResolveLogger("access.service", provider, s.logger)
	}
}

// NewService creates the access lifecycle service.
func NewService(tenants TenantDirectory, users UserDirectory, credentials CredentialStore, opts ...ServiceOption) *Service {
	provider, logger := ResolveLogger("access.service", nil, nil)
	s := &Service{
		tenants:     tenants,
		users:       users,
		credentials: credentials,
		activity:    noopActivitySink{},
		timeout:     DefaultOperationTimeout,
		now:         time.Now,
		logger:      logger,
		provider:    provider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// HospitalRegistration is the result of RegisterHospital.
type HospitalRegistration struct {
	Hospital *Hospital `json:"hospital"`
	Admin    *User     `json:"user"`
}

// AccessRequestReceipt acknowledges a doctor's access request. It never
// carries a session.
type AccessRequestReceipt struct {
	RequestID  uuid.UUID  `json:"request_id"`
	HospitalID uuid.UUID  `json:"hospital_id"`
	Status     UserStatus `json:"status"`
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	User    *User        `json:"user"`
	Session SessionToken `json:"session"`
}

// RegisterHospital creates a hospital with its administrator. The admin is
// not signed in.
func (s *Service) RegisterHospital(ctx context.Context, req RegisterHospitalRequest) (*HospitalRegistration, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.tenants.FindHospitalByName(ctx, req.HospitalName); err == nil {
		return nil, NewDuplicateTenantError(req.HospitalName)
	} else if !isNotFound(err) {
		return nil, asRichError(err, "failed to look up hospital")
	}

	exists, err := s.credentials.AccountExists(ctx, req.AdminEmail)
	if err != nil {
		return nil, asRichError(err, "failed to check admin email")
	}
	if exists {
		return nil, NewDuplicateEmailError(MessageDuplicateAdmin)
	}

	identity, err := s.credentials.CreateAccount(ctx, req.AdminEmail, req.AdminPassword)
	if err != nil {
		if HasTextCode(err, TextCodeDuplicateEmail) {
			return nil, NewDuplicateEmailError(MessageDuplicateAdmin)
		}
		return nil, asRichError(err, "failed to create admin account")
	}

	admin, hospital, err := s.users.CreateAdminWithHospital(ctx, AdminProfile{
		IdentityID:    identity.ID,
		Email:         req.AdminEmail,
		Name:          req.AdminName,
		HospitalName:  req.HospitalName,
		HospitalEmail: req.HospitalEmail,
		HospitalPhone: req.HospitalPhone,
	})
	if err != nil {
		s.compensate(ctx, identity, err)
		return nil, asRichError(err, "failed to register hospital")
	}

	s.sendVerification(ctx, identity.Email)

	s.record(ctx, ActivityEvent{
		EventType:  ActivityEventHospitalRegistered,
		Actor:      ActorRef{ID: admin.ID.String(), Type: string(RoleAdmin)},
		UserID:     admin.ID.String(),
		HospitalID: hospital.ID.String(),
		ToStatus:   admin.Status,
		Metadata:   map[string]any{"hospital_name": hospital.Name},
	})

	return &HospitalRegistration{Hospital: hospital, Admin: admin}, nil
}

// RequestDoctorAccess onboards a doctor into a hospital in the pending state.
func (s *Service) RequestDoctorAccess(ctx context.Context, req DoctorAccessRequest) (*AccessRequestReceipt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	hospital, err := s.tenants.FindHospitalByIDAndName(ctx, req.HospitalID, req.HospitalName)
	if err != nil {
		if isNotFound(err) {
			return nil, NewTenantMismatchError()
		}
		return nil, asRichError(err, "failed to look up hospital")
	}

	exists, err := s.credentials.AccountExists(ctx, req.Email)
	if err != nil {
		return nil, asRichError(err, "failed to check email")
	}
	if exists {
		return nil, NewDuplicateEmailError(MessageDuplicateEmail)
	}

	identity, err := s.credentials.CreateAccount(ctx, req.Email, req.Password)
	if err != nil {
		return nil, asRichError(err, "failed to create account")
	}

	doctor, err := s.users.CreateDoctor(ctx, DoctorProfile{
		IdentityID: identity.ID,
		Email:      req.Email,
		Name:       req.Name,
		Department: req.Department,
		LicenseID:  req.LicenseID,
		Specialty:  req.Specialty,
	}, hospital)
	if err != nil {
		s.compensate(ctx, identity, err)
		return nil, asRichError(err, "failed to create access request")
	}

	s.sendVerification(ctx, identity.Email)

	s.record(ctx, ActivityEvent{
		EventType:  ActivityEventDoctorRequested,
		Actor:      ActorRef{ID: doctor.ID.String(), Type: string(RoleDoctor)},
		UserID:     doctor.ID.String(),
		HospitalID: hospital.ID.String(),
		ToStatus:   doctor.Status,
	})

	return &AccessRequestReceipt{
		RequestID:  doctor.ID,
		HospitalID: hospital.ID,
		Status:     doctor.Status,
	}, nil
}

// Login authenticates and gates the session on the profile status. Status
// is only revealed after the credentials check out.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	identity, err := s.credentials.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		s.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Metadata:  map[string]any{"reason": "credentials"},
		})
		if HasTextCode(err, TextCodeInvalidCredential) {
			return nil, NewInvalidCredentialsError()
		}
		s.logger.Error("credential store authentication failed", "error", err)
		return nil, asRichError(err, "failed to authenticate")
	}

	user, err := s.users.FindByIdentityID(ctx, identity.ID)
	if err != nil {
		if isNotFound(err) {
			s.logger.Error("authenticated identity has no user profile", "identity_id", identity.ID)
			s.record(ctx, ActivityEvent{
				EventType: ActivityEventLoginFailure,
				Metadata:  map[string]any{"reason": "profile_missing", "identity_id": identity.ID},
			})
			return nil, NewProfileMissingError(identity.ID)
		}
		return nil, asRichError(err, "failed to load profile")
	}

	if !user.CanSignIn() {
		s.record(ctx, ActivityEvent{
			EventType:  ActivityEventLoginFailure,
			UserID:     user.ID.String(),
			HospitalID: user.HospitalID.String(),
			FromStatus: user.Status,
			Metadata:   map[string]any{"reason": "status"},
		})
		return nil, NewAccountStatusError(user.Status)
	}

	if s.requireVerifiedEmail && !identity.EmailVerified {
		return nil, NewEmailNotVerifiedError()
	}

	session, err := s.credentials.IssueSession(ctx, identity)
	if err != nil {
		return nil, asRichError(err, "failed to issue session")
	}

	s.record(ctx, ActivityEvent{
		EventType:  ActivityEventLoginSuccess,
		Actor:      ActorRef{ID: user.ID.String(), Type: string(user.Role)},
		UserID:     user.ID.String(),
		HospitalID: user.HospitalID.String(),
	})

	return &LoginResult{User: user, Session: session}, nil
}

// ApproveDoctor moves a pending or suspended doctor to approved.
func (s *Service) ApproveDoctor(ctx context.Context, actingAdminID, targetUserID string, opts ...TransitionOption) (*User, error) {
	return s.transition(ctx, actingAdminID, targetUserID, EventApprove, opts...)
}

// RejectDoctor moves a pending doctor to rejected.
func (s *Service) RejectDoctor(ctx context.Context, actingAdminID, targetUserID string, opts ...TransitionOption) (*User, error) {
	return s.transition(ctx, actingAdminID, targetUserID, EventReject, opts...)
}

// SuspendDoctor moves an approved doctor to suspended.
func (s *Service) SuspendDoctor(ctx context.Context, actingAdminID, targetUserID string, opts ...TransitionOption) (*User, error) {
	return s.transition(ctx, actingAdminID, targetUserID, EventSuspend, opts...)
}

func (s *Service) transition(ctx context.Context, actingAdminID, targetUserID string, event StatusEvent, opts ...TransitionOption) (*User, error) {
	adminID, err := uuid.Parse(actingAdminID)
	if err != nil {
		return nil, NewPermissionError()
	}
	userID, err := uuid.Parse(targetUserID)
	if err != nil {
		return nil, NewPermissionError()
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := s.users.Transition(ctx, userID, adminID, event, opts...)
	if err != nil {
		return nil, asRichError(err, "failed to change doctor status")
	}
	return user, nil
}

// ListDoctorsForAdmin lists the acting admin's doctors, optionally filtered.
func (s *Service) ListDoctorsForAdmin(ctx context.Context, actingAdminID string, statuses ...UserStatus) ([]*User, error) {
	adminID, err := uuid.Parse(actingAdminID)
	if err != nil {
		return nil, NewPermissionError()
	}

	for _, st := range statuses {
		if !st.IsValid() {
			return nil, NewValidationError(nil, "Unknown status filter")
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doctors, err := s.users.ListDoctors(ctx, adminID, statuses...)
	if err != nil {
		return nil, asRichError(err, "failed to list doctors")
	}
	return doctors, nil
}

// ListPendingRequests lists the acting admin's doctors awaiting review.
func (s *Service) ListPendingRequests(ctx context.Context, actingAdminID string) ([]*User, error) {
	return s.ListDoctorsForAdmin(ctx, actingAdminID, UserStatusPending)
}

// ForgotPassword never reveals whether the email is registered: every
// outcome but a validation failure returns nil.
func (s *Service) ForgotPassword(ctx context.Context, req ForgotPasswordRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.credentials.SendPasswordReset(ctx, req.Email); err != nil {
		s.logger.Error("failed to send password reset", "error", err)
		return nil
	}

	s.record(ctx, ActivityEvent{EventType: ActivityEventPasswordResetRequested})
	return nil
}

// ResetPassword completes a reset started by ForgotPassword.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	identity, err := s.credentials.ResetPassword(ctx, req.Token, req.Password)
	if err != nil {
		return asRichError(err, "failed to reset password")
	}

	event := ActivityEvent{EventType: ActivityEventPasswordResetSuccess}
	if user, err := s.users.FindByIdentityID(ctx, identity.ID); err == nil {
		event.Actor = ActorRef{ID: user.ID.String(), Type: string(user.Role)}
		event.UserID = user.ID.String()
		event.HospitalID = user.HospitalID.String()
	}
	s.record(ctx, event)

	return nil
}

// ConfirmEmail marks an identity as verified.
func (s *Service) ConfirmEmail(ctx context.Context, req ConfirmEmailRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	identity, err := s.credentials.ConfirmEmail(ctx, req.Token)
	if err != nil {
		return asRichError(err, "failed to confirm email")
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventEmailVerified,
		Metadata:  map[string]any{"identity_id": identity.ID},
	})
	return nil
}

// SessionUser resolves the profile behind a session token.
func (s *Service) SessionUser(ctx context.Context, token string) (*User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	identityID, err := s.credentials.ResolveSession(ctx, token)
	if err != nil {
		return nil, asRichError(err, "failed to resolve session")
	}

	user, err := s.users.FindByIdentityID(ctx, identityID)
	if err != nil {
		if isNotFound(err) {
			s.logger.Error("session identity has no user profile", "identity_id", identityID)
			return nil, NewProfileMissingError(identityID)
		}
		return nil, asRichError(err, "failed to load profile")
	}

	if !user.CanSignIn() {
		return nil, NewAccountStatusError(user.Status)
	}

	return user, nil
}

// Logout invalidates the session. It is idempotent.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.credentials.InvalidateSession(ctx, token); err != nil {
		return asRichError(err, "failed to invalidate session")
	}

	s.record(ctx, ActivityEvent{EventType: ActivityEventLogout})
	return nil
}

// compensate removes an identity whose profile could not be created.
func (s *Service) compensate(ctx context.Context, identity Identity, cause error) {
	// the caller's deadline may be the reason the profile write failed
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultOperationTimeout)
	defer cancel()

	err := s.credentials.DeleteAccount(ctx, identity.ID)
	if err == nil {
		s.logger.Debug("removed identity after failed profile creation", "identity_id", identity.ID)
		return
	}

	s.logger.Error("orphaned credential identity",
		"identity_id", identity.ID,
		"cause", cause,
		"error", err,
	)
	s.record(ctx, ActivityEvent{
		EventType: ActivityEventIdentityOrphaned,
		Metadata: map[string]any{
			"identity_id": identity.ID,
			"email":       identity.Email,
		},
	})
}

func (s *Service) sendVerification(ctx context.Context, email string) {
	if err := s.credentials.SendVerification(ctx, email); err != nil {
		s.logger.Warn("failed to send verification email", "error", err)
	}
}

func (s *Service) record(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if err := normalizeActivitySink(s.activity).Record(ctx, event); err != nil {
		s.logger.Warn("activity sink error", "event", string(event.EventType), "error", err)
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
