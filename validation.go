package access

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

// MinPasswordLength is the shortest password accepted on any form.
const MinPasswordLength = 8

// DefaultPhoneRegion is used to parse contact numbers without a country prefix.
var DefaultPhoneRegion = "US"

var errInvalidPhone = errors.New("must be a valid phone number")

// RegisterHospitalRequest is the payload of a hospital self-registration.
type RegisterHospitalRequest struct {
	HospitalName  string `json:"hospital_name" form:"hospital_name"`
	HospitalEmail string `json:"hospital_email" form:"hospital_email"`
	HospitalPhone string `json:"hospital_phone,omitempty" form:"hospital_phone"`
	AdminName     string `json:"admin_name" form:"admin_name"`
	AdminEmail    string `json:"admin_email" form:"admin_email"`
	AdminPassword string `json:"admin_password" form:"admin_password"`
}

// Validate runs validation rules.
func (r RegisterHospitalRequest) Validate() *goerrors.Error {
	return validateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.HospitalName, validation.Required, validation.Length(2, 200)),
			validation.Field(&r.HospitalEmail, validation.Required, is.Email),
			validation.Field(&r.HospitalPhone, validation.By(validPhone)),
			validation.Field(&r.AdminName, validation.Required, validation.Length(2, 200)),
			validation.Field(&r.AdminEmail, validation.Required, is.Email),
			validation.Field(&r.AdminPassword, validation.Required, validation.Length(MinPasswordLength, 0)),
		)
	}, "Invalid hospital registration")
}

// DoctorAccessRequest is the payload of a doctor's access request.
type DoctorAccessRequest struct {
	Name         string `json:"name" form:"name"`
	HospitalName string `json:"hospital_name" form:"hospital_name"`
	HospitalID   string `json:"hospital_id" form:"hospital_id"`
	Department   string `json:"department" form:"department"`
	LicenseID    string `json:"license_id" form:"license_id"`
	Specialty    string `json:"specialty,omitempty" form:"specialty"`
	Email        string `json:"email" form:"email"`
	Password     string `json:"password" form:"password"`
}

// Validate runs validation rules. HospitalID is only required here: a
// malformed id is reported like any other tenant mismatch.
func (r DoctorAccessRequest) Validate() *goerrors.Error {
	return validateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.Name, validation.Required, validation.Length(2, 200)),
			validation.Field(&r.HospitalName, validation.Required),
			validation.Field(&r.HospitalID, validation.Required),
			validation.Field(&r.Department, validation.Required),
			validation.Field(&r.LicenseID, validation.Required),
			validation.Field(&r.Email, validation.Required, is.Email),
			validation.Field(&r.Password, validation.Required, validation.Length(MinPasswordLength, 0)),
		)
	}, "Invalid access request")
}

// LoginRequest payload.
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Validate runs validation rules.
func (r LoginRequest) Validate() *goerrors.Error {
	return validateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.Email, validation.Required, is.Email),
			validation.Field(&r.Password, validation.Required),
		)
	}, "Invalid login request")
}

// ForgotPasswordRequest payload.
type ForgotPasswordRequest struct {
	Email string `json:"email" form:"email"`
}

// Validate runs validation rules.
func (r ForgotPasswordRequest) Validate() *goerrors.Error {
	return validateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.Email, validation.Required, is.Email),
		)
	}, "Invalid password reset request")
}

// ResetPasswordRequest completes a password reset.
type ResetPasswordRequest struct {
	Token    string `json:"token" form:"token"`
	Password string `json:"password" form:"password"`
}

// Validate runs validation rules.
func (r ResetPasswordRequest) Validate() *goerrors.Error {
	return validateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.Token, validation.Required),
			validation.Field(&r.Password, validation.Required, validation.Length(MinPasswordLength, 0)),
		)
	}, "Invalid password reset")
}

// ConfirmEmailRequest carries the token from a verification link.
type ConfirmEmailRequest struct {
	Token string `json:"token" form:"token"`
}

// Validate runs validation rules.
func (r ConfirmEmailRequest) Validate() *goerrors.Error {
	return validateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.Token, validation.Required),
		)
	}, "Invalid verification request")
}

func validateWithOzzo(fn func() error, message string) *goerrors.Error {
	err := goerrors.ValidateWithOzzo(fn, message)
	if err == nil {
		return nil
	}
	return err.WithTextCode(TextCodeValidation).WithCode(goerrors.CodeBadRequest)
}

func validPhone(value any) error {
	raw, _ := value.(string)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if _, err := NormalizePhone(raw); err != nil {
		return errInvalidPhone
	}
	return nil
}

// NormalizePhone parses a phone number and formats it as E.164.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	num, err := phonenumbers.Parse(raw, DefaultPhoneRegion)
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errInvalidPhone
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
