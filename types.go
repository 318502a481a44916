package access

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Identity is what the credential store knows about an account.
type Identity struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// SessionToken is an issued session credential.
type SessionToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CredentialStore owns passwords, verification, resets, and sessions.
// Raw passwords never leave it.
type CredentialStore interface {
	// CreateAccount fails with a DUPLICATE_EMAIL error when the email is taken.
	CreateAccount(ctx context.Context, email, password string) (Identity, error)
	// DeleteAccount removes an identity. Used to compensate failed registrations.
	DeleteAccount(ctx context.Context, identityID string) error
	AccountExists(ctx context.Context, email string) (bool, error)
	// Authenticate fails with a single INVALID_CREDENTIALS error for any mismatch.
	Authenticate(ctx context.Context, email, password string) (Identity, error)
	SendVerification(ctx context.Context, email string) error
	ConfirmEmail(ctx context.Context, token string) (Identity, error)
	// SendPasswordReset is silent when the email is unknown.
	SendPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) (Identity, error)
	IssueSession(ctx context.Context, identity Identity) (SessionToken, error)
	// ResolveSession returns the identity id behind an active session.
	ResolveSession(ctx context.Context, token string) (string, error)
	// InvalidateSession is idempotent.
	InvalidateSession(ctx context.Context, token string) error
}

// NewHospital is the input to CreateHospital.
type NewHospital struct {
	Name         string
	ContactEmail string
	ContactPhone string
	AdminUserID  uuid.UUID
}

// TenantDirectory owns hospital records and the uniqueness of their names.
type TenantDirectory interface {
	// CreateHospital fails with DUPLICATE_TENANT on a case-insensitive name match.
	CreateHospital(ctx context.Context, input NewHospital) (*Hospital, error)
	CreateHospitalTx(ctx context.Context, tx bun.IDB, input NewHospital) (*Hospital, error)
	// FindHospitalByIDAndName matches the exact id and the case-insensitive name.
	FindHospitalByIDAndName(ctx context.Context, id, name string) (*Hospital, error)
	FindHospitalByName(ctx context.Context, name string) (*Hospital, error)
}

// DoctorProfile is the input to CreateDoctor.
type DoctorProfile struct {
	IdentityID string
	Email      string
	Name       string
	Department string
	LicenseID  string
	Specialty  string
	Avatar     string
}

// AdminProfile is the input to CreateAdminWithHospital.
type AdminProfile struct {
	IdentityID    string
	Email         string
	Name          string
	Avatar        string
	HospitalName  string
	HospitalEmail string
	HospitalPhone string
}

// UserDirectory owns user profiles, email uniqueness, and status changes.
type UserDirectory interface {
	CreateDoctor(ctx context.Context, profile DoctorProfile, hospital *Hospital) (*User, error)
	// CreateAdminWithHospital creates both records or neither.
	CreateAdminWithHospital(ctx context.Context, profile AdminProfile) (*User, *Hospital, error)
	// Transition applies event to a doctor of the acting admin's hospital.
	Transition(ctx context.Context, userID, actingAdminID uuid.UUID, event StatusEvent, opts ...TransitionOption) (*User, error)
	// ListDoctors returns the acting admin's doctors, optionally filtered by status.
	ListDoctors(ctx context.Context, actingAdminID uuid.UUID, statuses ...UserStatus) ([]*User, error)
	FindByIdentityID(ctx context.Context, identityID string) (*User, error)
}

// Notifier delivers out-of-band messages carrying single use tokens.
type Notifier interface {
	SendVerification(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}
