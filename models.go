package access

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Role is the user's role inside a hospital.
type Role string

const (
	// RoleAdmin manages a hospital's doctors. One per hospital.
	RoleAdmin Role = "Admin"
	// RoleDoctor requests access and waits for approval.
	RoleDoctor Role = "Doctor"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleDoctor
}

// UserStatus tracks a doctor's login eligibility.
type UserStatus string

const (
	UserStatusPending   UserStatus = "pending"
	UserStatusApproved  UserStatus = "approved"
	UserStatusRejected  UserStatus = "rejected"
	UserStatusSuspended UserStatus = "suspended"
)

// IsValid reports whether s is a known status.
func (s UserStatus) IsValid() bool {
	switch s {
	case UserStatusPending, UserStatusApproved, UserStatusRejected, UserStatusSuspended:
		return true
	}
	return false
}

// DefaultAdminSpecialty is recorded for hospital administrators.
const DefaultAdminSpecialty = "System Administrator"

// Hospital is a tenant. Append only: never renamed or deleted.
type Hospital struct {
	bun.BaseModel `bun:"table:hospitals,alias:hsp"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Name         string     `bun:"name,notnull" json:"name"`
	NameKey      string     `bun:"name_key,notnull,unique" json:"-"`
	AdminUserID  uuid.UUID  `bun:"admin_user_id,nullzero,type:uuid" json:"admin_user_id,omitempty"`
	ContactEmail string     `bun:"contact_email" json:"contact_email,omitempty"`
	ContactPhone string     `bun:"contact_phone" json:"contact_phone,omitempty"`
	Domain       string     `bun:"domain" json:"domain,omitempty"`
	CreatedAt    *time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
}

// User is a hospital profile, 1:1 with a credential store identity.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	IdentityID   string     `bun:"identity_id,notnull,unique" json:"-"`
	Email        string     `bun:"email,notnull,unique" json:"email"`
	Name         string     `bun:"name,notnull" json:"name"`
	Role         Role       `bun:"user_role,notnull" json:"role"`
	Specialty    string     `bun:"specialty" json:"specialty,omitempty"`
	HospitalID   uuid.UUID  `bun:"hospital_id,notnull,type:uuid" json:"hospital_id"`
	HospitalName string     `bun:"hospital_name,notnull" json:"hospital_name"`
	Department   string     `bun:"department" json:"department,omitempty"`
	LicenseID    string     `bun:"license_id" json:"license_id,omitempty"`
	Avatar       string     `bun:"avatar" json:"avatar,omitempty"`
	Status       UserStatus `bun:"status,notnull" json:"status"`
	SuspendedAt  *time.Time `bun:"suspended_at,nullzero" json:"suspended_at,omitempty"`
	CreatedAt    *time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt    *time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`
}

// IsAdmin reports whether the user administers a hospital.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// IsDoctor reports whether the user is a doctor.
func (u *User) IsDoctor() bool {
	return u != nil && u.Role == RoleDoctor
}

// CanSignIn reports whether the account status allows a session.
func (u *User) CanSignIn() bool {
	if u == nil {
		return false
	}
	if u.Role == RoleAdmin {
		return true
	}
	return u.Status == UserStatusApproved
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HospitalNameKey is the case-insensitive uniqueness key for hospital names.
func HospitalNameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// DomainFromEmail derives the informational hospital domain.
func DomainFromEmail(email string) string {
	email = NormalizeEmail(email)
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}
