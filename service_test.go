package access_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/goliatone/go-access"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterHospitalCreatesAdminWithoutSession(t *testing.T) {
	env := newTestEnv(t)

	res := env.registerHospital(t, "General Hospital", "admin@gh.com")

	require.NotNil(t, res.Hospital)
	require.NotNil(t, res.Admin)
	assert.Equal(t, "General Hospital", res.Hospital.Name)
	assert.Equal(t, "gh.com", res.Hospital.Domain)
	assert.Equal(t, res.Admin.ID, res.Hospital.AdminUserID)
	assert.Equal(t, access.RoleAdmin, res.Admin.Role)
	assert.Equal(t, access.UserStatusApproved, res.Admin.Status)
	assert.Equal(t, res.Hospital.ID, res.Admin.HospitalID)

	assert.NotEmpty(t, env.notifier.verificationToken("admin@gh.com"))
	assert.Len(t, env.activity.ofType(access.ActivityEventHospitalRegistered), 1)
}

func TestRegisterHospitalValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.RegisterHospital(context.Background(), access.RegisterHospitalRequest{
		HospitalName:  "General Hospital",
		HospitalEmail: "not-an-email",
		AdminName:     "Admin",
		AdminEmail:    "admin@gh.com",
		AdminPassword: "short",
	})
	require.Error(t, err)
	assert.Equal(t, access.TextCodeValidation, access.TextCodeOf(err))

	res := access.ResponseFromError(err)
	assert.False(t, res.Success)
	require.NotNil(t, res.Data)

	exists, err := env.credentials.AccountExists(context.Background(), "admin@gh.com")
	require.NoError(t, err)
	assert.False(t, exists, "validation runs before any store access")
}

func TestRegisterHospitalDuplicateNameIsCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	env.registerHospital(t, "General Hospital", "admin@gh.com")

	_, err := env.service.RegisterHospital(context.Background(), access.RegisterHospitalRequest{
		HospitalName:  "  general   HOSPITAL ",
		HospitalEmail: "contact@other.com",
		AdminName:     "Other Admin",
		AdminEmail:    "admin@other.com",
		AdminPassword: testPassword,
	})
	require.Error(t, err)
	assert.Equal(t, access.TextCodeDuplicateTenant, access.TextCodeOf(err))

	exists, err := env.credentials.AccountExists(context.Background(), "admin@other.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRegisterHospitalDuplicateAdminEmail(t *testing.T) {
	env := newTestEnv(t)
	env.registerHospital(t, "General Hospital", "admin@gh.com")

	_, err := env.service.RegisterHospital(context.Background(), access.RegisterHospitalRequest{
		HospitalName:  "Another Hospital",
		HospitalEmail: "contact@another.com",
		AdminName:     "Admin",
		AdminEmail:    "ADMIN@gh.com",
		AdminPassword: testPassword,
	})
	require.Error(t, err)
	assert.Equal(t, access.TextCodeDuplicateEmail, access.TextCodeOf(err))
	assert.Equal(t, access.MessageDuplicateAdmin, access.ResponseFromError(err).Message)

	_, err = env.repos.Hospitals().FindHospitalByName(context.Background(), "Another Hospital")
	require.Error(t, err)
}

func TestConcurrentRegisterHospitalSameName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const workers = 6
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.service.RegisterHospital(ctx, access.RegisterHospitalRequest{
				HospitalName:  "St. Mary",
				HospitalEmail: "contact@stmary.org",
				AdminName:     "Admin",
				AdminEmail:    fmt.Sprintf("admin%d@stmary.org", i),
				AdminPassword: testPassword,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, access.TextCodeDuplicateTenant, access.TextCodeOf(err))

		exists, err := env.credentials.AccountExists(ctx, fmt.Sprintf("admin%d@stmary.org", i))
		require.NoError(t, err)
		assert.False(t, exists, "losing registrations must not leave an identity behind")
	}
	assert.Equal(t, 1, succeeded)
}

func TestRequestDoctorAccessCreatesPendingDoctor(t *testing.T) {
	env := newTestEnv(t)
	reg := env.registerHospital(t, "General Hospital", "admin@gh.com")

	receipt := env.requestAccess(t, reg.Hospital, "doc@gh.com")

	assert.Equal(t, reg.Hospital.ID, receipt.HospitalID)
	assert.Equal(t, access.UserStatusPending, receipt.Status)

	pending, err := env.service.ListPendingRequests(context.Background(), reg.Admin.ID.String())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, receipt.RequestID, pending[0].ID)
	assert.Equal(t, "General Hospital", pending[0].HospitalName)

	assert.Len(t, env.activity.ofType(access.ActivityEventDoctorRequested), 1)
}

func TestRequestDoctorAccessHospitalNameIsCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	reg := env.registerHospital(t, "General Hospital", "admin@gh.com")

	req := doctorRequest(reg.Hospital, "doc@gh.com")
	req.HospitalName = "GENERAL hospital"

	_, err := env.service.RequestDoctorAccess(context.Background(), req)
	require.NoError(t, err)
}

func TestRequestDoctorAccessTenantMismatch(t *testing.T) {
	env := newTestEnv(t)
	general := env.registerHospital(t, "General Hospital", "admin@gh.com")
	other := env.registerHospital(t, "Other Hospital", "admin@other.com")

	cases := map[string]func(*access.DoctorAccessRequest){
		"wrong name": func(r *access.DoctorAccessRequest) { r.HospitalName = "Nope Hospital" },
		"id of other hospital": func(r *access.DoctorAccessRequest) {
			r.HospitalID = other.Hospital.ID.String()
		},
		"malformed id": func(r *access.DoctorAccessRequest) { r.HospitalID = "not-a-uuid" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := doctorRequest(general.Hospital, "doc@gh.com")
			mutate(&req)

			_, err := env.service.RequestDoctorAccess(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, access.TextCodeTenantMismatch, access.TextCodeOf(err))
			assert.Equal(t, access.MessageTenantMismatch, access.ResponseFromError(err).Message)
		})
	}

	exists, err := env.credentials.AccountExists(context.Background(), "doc@gh.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRequestDoctorAccessDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	reg := env.registerHospital(t, "General Hospital", "admin@gh.com")
	env.requestAccess(t, reg.Hospital, "doc@gh.com")

	_, err := env.service.RequestDoctorAccess(context.Background(), doctorRequest(reg.Hospital, "Doc@GH.com"))
	require.Error(t, err)
	assert.Equal(t, access.TextCodeDuplicateEmail, access.TextCodeOf(err))

	_, err = env.service.RequestDoctorAccess(context.Background(), doctorRequest(reg.Hospital, "admin@gh.com"))
	require.Error(t, err)
	assert.Equal(t, access.TextCodeDuplicateEmail, access.TextCodeOf(err))
}

func TestConcurrentRequestDoctorAccessSameEmail(t *testing.T) {
	env := newTestEnv(t)
	reg := env.registerHospital(t, "General Hospital", "admin@gh.com")

	const workers = 6
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.service.RequestDoctorAccess(context.Background(), doctorRequest(reg.Hospital, "doc@gh.com"))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, access.TextCodeDuplicateEmail, access.TextCodeOf(err))
	}
	assert.Equal(t, 1, succeeded)

	doctors, err := env.service.ListDoctorsForAdmin(context.Background(), reg.Admin.ID.String())
	require.NoError(t, err)
	assert.Len(t, doctors, 1)
}

func TestLoginGatesOnDoctorStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.registerHospital(t, "General Hospital", "admin@gh.com")
	receipt := env.requestAccess(t, reg.Hospital, "doc@gh.com")
	adminID := reg.Admin.ID.String()
	doctorID := receipt.RequestID.String()

	login := func() (*access.LoginResult, error) {
		return env.service.Login(ctx, access.LoginRequest{Email: "doc@gh.com", Password: testPassword})
	}

	_, err := login()
	require.Error(t, err)
	assert.Equal(t, access.TextCodeAccountPending, access.TextCodeOf(err))
	assert.Equal(t, access.MessageAccountPending, access.ResponseFromError(err).Message)

	_, err = env.service.ApproveDoctor(ctx, adminID, doctorID)
	require.NoError(t, err)

	res, err := login()
	require.NoError(t, err)
	assert.NotEmpty(t, res.Session.Token)
	assert.Equal(t, access.UserStatusApproved, res.User.Status)

	_, err = env.service.SuspendDoctor(ctx, adminID, doctorID, access.WithTransitionReason("license review"))
	require.NoError(t, err)

	_, err = login()
	require.Error(t, err)
	assert.Equal(t, access.TextCodeAccountSuspended, access.TextCodeOf(err))

	_, err = env.service.SessionUser(ctx, res.Session.Token)
	require.Error(t, err, "existing sessions stop working once suspended")
	assert.Equal(t, access.TextCodeAccountSuspended, access.TextCodeOf(err))

	_, err = env.service.ApproveDoctor(ctx, adminID, doctorID)
	require.NoError(t, err)

	_, err = login()
	require.NoError(t, err)
}

func TestLoginRejectedDoctor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.registerHospital(t, "General Hospital", "admin@gh.com")
	receipt := env.requestAccess(t, reg.Hospital, "doc@gh.com")

	_, err := env.service.RejectDoctor(ctx, reg.Admin.ID.String(), receipt.RequestID.String())
	require.NoError(t, err)

	_, err = env.service.Login(ctx, access.LoginRequest{Email: "doc@gh.com", Password: testPassword})
	require.Error(t, err)
	assert.Equal(t, access.TextCodeAccountRejected, access.TextCodeOf(err))

	_, err = env.service.ApproveDoctor(ctx, reg.Admin.ID.String(), receipt.RequestID.String())
	require.Error(t, err)
	assert.Equal(t, access.TextCodeTerminalStatus, access.TextCodeOf(err))
}

func TestLoginWrongPasswordDoesNotRevealStatus(t *testing.T) {
	env := newTestEnv(t)
	reg := env.registerHospital(t, "General Hospital", "admin@gh.com")
	env.requestAccess(t, reg.Hospital, "doc@gh.com")

	_, err := env.service.Login(context.Background(), access.LoginRequest{Email: "doc@gh.com", Password: "wrong-password"})
	require.Error(t, err)
	assert.Equal(t, access.TextCodeInvalidCredential, access.TextCodeOf(err))
	assert.Equal(t, access.MessageInvalidCredentials, access.ResponseFromError(err).Message)

	assert.NotEmpty(t, env.activity.ofType(access.ActivityEventLoginFailure))
}

func TestLoginAdminSucceedsImmediately(t *testing.T) {
	env := newTestEnv(t)
	reg := env.registerHospital(t, "General Hospital", "admin@gh.com")

	res, err := env.service.Login(context.Background(), access.LoginRequest{Email: "Admin@GH.com", Password: testPassword})
	require.NoError(t, err)
	assert.Equal(t, reg.Admin.ID, res.User.ID)
	assert.Len(t, env.activity.ofType(access.ActivityEventLoginSuccess), 1)
}

func TestLoginRequiresVerifiedEmail(t *testing.T) {
	env := newTestEnv(t, access.WithRequireVerifiedEmail(true))
	ctx := context.Background()
	env.registerHospital(t, "General Hospital", "admin@gh.com")

	_, err := env.service.Login(ctx, access.LoginRequest{Email: "admin@gh.com", Password: testPassword})
	require.Error(t, err)
	assert.Equal(t, access.TextCodeEmailNotVerified, access.TextCodeOf(err))

	token := env.notifier.verificationToken("admin@gh.com")
	require.NoError(t, env.service.ConfirmEmail(ctx, access.ConfirmEmailRequest{Token: token}))

	_, err = env.service.Login(ctx, access.LoginRequest{Email: "admin@gh.com", Password: testPassword})
	require.NoError(t, err)
}

func TestLoginProfileMissing(t *testing.T) {
	env := newTestEnv(t)
	logger := &captureLogger{}
	env.service = access.NewService(env.repos.Hospitals(), env.repos.Users(), env.credentials,
		access.WithActivitySink(env.activity),
		access.WithLogger(logger),
	)

	_, err := env.credentials.CreateAccount(context.Background(), "ghost@gh.com", testPassword)
	require.NoError(t, err)

	_, err = env.service.Login(context.Background(), access.LoginRequest{Email: "ghost@gh.com", Password: testPassword})
	require.Error(t, err)
	assert.Equal(t, access.TextCodeProfileMissing, access.TextCodeOf(err))
	assert.Equal(t, access.MessageProfileMissing, access.ResponseFromError(err).Message)
	assert.NotEmpty(t, logger.levels("error"))
}

func TestAdminCannotActAcrossHospitals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	general := env.registerHospital(t, "General Hospital", "admin@gh.com")
	other := env.registerHospital(t, "Other Hospital", "admin@other.com")
	receipt := env.requestAccess(t, general.Hospital, "doc@gh.com")

	for _, fn := range []func(context.Context, string, string, ...access.TransitionOption) (*access.User, error){
		env.service.ApproveDoctor,
		env.service.RejectDoctor,
		env.service.SuspendDoctor,
	} {
		_, err := fn(ctx, other.Admin.ID.String(), receipt.RequestID.String())
		require.Error(t, err)
		assert.Equal(t, access.TextCodePermission, access.TextCodeOf(err))
	}

	doctors, err := env.service.ListDoctorsForAdmin(ctx, other.Admin.ID.String())
	require.NoError(t, err)
	assert.Empty(t, doctors)

	_, err = env.service.ApproveDoctor(ctx, "not-a-uuid", receipt.RequestID.String())
	require.Error(t, err)
	assert.Equal(t, access.TextCodePermission, access.TextCodeOf(err))
}

func TestListDoctorsForAdminFilters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.registerHospital(t, "General Hospital", "admin@gh.com")
	adminID := reg.Admin.ID.String()

	first := env.requestAccess(t, reg.Hospital, "one@gh.com")
	env.requestAccess(t, reg.Hospital, "two@gh.com")
	_, err := env.service.ApproveDoctor(ctx, adminID, first.RequestID.String())
	require.NoError(t, err)

	approved, err := env.service.ListDoctorsForAdmin(ctx, adminID, access.UserStatusApproved)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, first.RequestID, approved[0].ID)

	all, err := env.service.ListDoctorsForAdmin(ctx, adminID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = env.service.ListDoctorsForAdmin(ctx, adminID, access.UserStatus("bogus"))
	require.Error(t, err)
	assert.Equal(t, access.TextCodeValidation, access.TextCodeOf(err))
}

func TestStatusTransitionsEmitActivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.registerHospital(t, "General Hospital", "admin@gh.com")
	receipt := env.requestAccess(t, reg.Hospital, "doc@gh.com")

	_, err := env.service.ApproveDoctor(ctx, reg.Admin.ID.String(), receipt.RequestID.String(), access.WithTransitionReason("verified license"))
	require.NoError(t, err)

	events := env.activity.ofType(access.ActivityEventUserStatusChanged)
	require.Len(t, events, 1)
	assert.Equal(t, access.UserStatusPending, events[0].FromStatus)
	assert.Equal(t, access.UserStatusApproved, events[0].ToStatus)
	assert.Equal(t, reg.Admin.ID.String(), events[0].Actor.ID)
	assert.Equal(t, receipt.RequestID.String(), events[0].UserID)
	assert.Equal(t, reg.Hospital.ID.String(), events[0].HospitalID)
}

func TestForgotPasswordIsGeneric(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerHospital(t, "General Hospital", "admin@gh.com")

	require.NoError(t, env.service.ForgotPassword(ctx, access.ForgotPasswordRequest{Email: "admin@gh.com"}))
	require.NoError(t, env.service.ForgotPassword(ctx, access.ForgotPasswordRequest{Email: "nobody@gh.com"}))

	assert.NotEmpty(t, env.notifier.resetToken("admin@gh.com"))
	assert.Empty(t, env.notifier.resetToken("nobody@gh.com"))

	err := env.service.ForgotPassword(ctx, access.ForgotPasswordRequest{Email: "nope"})
	require.Error(t, err)
	assert.Equal(t, access.TextCodeValidation, access.TextCodeOf(err))
}

func TestResetPasswordFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerHospital(t, "General Hospital", "admin@gh.com")

	require.NoError(t, env.service.ForgotPassword(ctx, access.ForgotPasswordRequest{Email: "admin@gh.com"}))
	token := env.notifier.resetToken("admin@gh.com")

	require.NoError(t, env.service.ResetPassword(ctx, access.ResetPasswordRequest{Token: token, Password: "new-password-123"}))

	_, err := env.service.Login(ctx, access.LoginRequest{Email: "admin@gh.com", Password: "new-password-123"})
	require.NoError(t, err)

	err = env.service.ResetPassword(ctx, access.ResetPasswordRequest{Token: token, Password: "new-password-456"})
	require.Error(t, err)
	assert.Equal(t, access.TextCodeTokenInvalid, access.TextCodeOf(err))

	assert.Len(t, env.activity.ofType(access.ActivityEventPasswordResetSuccess), 1)
}

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerHospital(t, "General Hospital", "admin@gh.com")

	res, err := env.service.Login(ctx, access.LoginRequest{Email: "admin@gh.com", Password: testPassword})
	require.NoError(t, err)

	user, err := env.service.SessionUser(ctx, res.Session.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, user.ID)

	require.NoError(t, env.service.Logout(ctx, res.Session.Token))
	require.NoError(t, env.service.Logout(ctx, res.Session.Token))
	require.NoError(t, env.service.Logout(ctx, ""))

	_, err = env.service.SessionUser(ctx, res.Session.Token)
	require.Error(t, err)
}

// failingProfiles fails every profile write.
type failingProfiles struct {
	access.UserDirectory
}

func (failingProfiles) CreateDoctor(context.Context, access.DoctorProfile, *access.Hospital) (*access.User, error) {
	return nil, errors.New("profile store unavailable")
}

func (failingProfiles) CreateAdminWithHospital(context.Context, access.AdminProfile) (*access.User, *access.Hospital, error) {
	return nil, nil, errors.New("profile store unavailable")
}

// stickyCredentials refuses to delete accounts.
type stickyCredentials struct {
	*access.LocalCredentialStore
}

func (stickyCredentials) DeleteAccount(context.Context, string) error {
	return errors.New("identity provider unavailable")
}

func TestProfileFailureCompensatesIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.registerHospital(t, "General Hospital", "admin@gh.com")

	svc := access.NewService(env.repos.Hospitals(), failingProfiles{env.repos.Users()}, env.credentials,
		access.WithActivitySink(env.activity),
		access.WithLogger(access.NopLogger()),
	)

	_, err := svc.RequestDoctorAccess(ctx, doctorRequest(reg.Hospital, "doc@gh.com"))
	require.Error(t, err)
	assert.Equal(t, access.TextCodeInternal, access.TextCodeOf(err))
	assert.Equal(t, access.MessageInternal, access.ResponseFromError(err).Message)

	exists, err := env.credentials.AccountExists(ctx, "doc@gh.com")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, env.activity.ofType(access.ActivityEventIdentityOrphaned))
}

func TestFailedCompensationRecordsOrphan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	logger := &captureLogger{}

	svc := access.NewService(env.repos.Hospitals(), failingProfiles{env.repos.Users()}, stickyCredentials{env.credentials},
		access.WithActivitySink(env.activity),
		access.WithLogger(logger),
	)

	_, err := svc.RegisterHospital(ctx, access.RegisterHospitalRequest{
		HospitalName:  "General Hospital",
		HospitalEmail: "contact@gh.com",
		AdminName:     "Admin",
		AdminEmail:    "admin@gh.com",
		AdminPassword: testPassword,
	})
	require.Error(t, err)

	orphans := env.activity.ofType(access.ActivityEventIdentityOrphaned)
	require.Len(t, orphans, 1)
	assert.Equal(t, "admin@gh.com", orphans[0].Metadata["email"])

	found := false
	for _, call := range logger.levels("error") {
		if strings.Contains(call.message, "orphaned") {
			found = true
		}
	}
	assert.True(t, found, "orphaned identity must be logged")
}

func TestActivitySinkErrorsDoNotFailOperations(t *testing.T) {
	env := newTestEnv(t)
	svc := access.NewService(env.repos.Hospitals(), env.repos.Users(), env.credentials,
		access.WithActivitySink(access.ActivitySinkFunc(func(context.Context, access.ActivityEvent) error {
			return errors.New("sink down")
		})),
		access.WithLogger(access.NopLogger()),
	)

	_, err := svc.RegisterHospital(context.Background(), access.RegisterHospitalRequest{
		HospitalName:  "General Hospital",
		HospitalEmail: "contact@gh.com",
		AdminName:     "Admin",
		AdminEmail:    "admin@gh.com",
		AdminPassword: testPassword,
	})
	require.NoError(t, err)
}
