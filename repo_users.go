package access

import (
	"context"
	"database/sql"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the bun backed UserDirectory.
type Users interface {
	repository.Repository[*User]
	UserDirectory

	CreateDoctorTx(ctx context.Context, tx bun.IDB, profile DoctorProfile, hospital *Hospital) (*User, error)
	CreateAdminWithHospitalTx(ctx context.Context, tx bun.IDB, profile AdminProfile) (*User, *Hospital, error)
	CompareAndSetStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, from, to UserStatus, opts ...StatusUpdateOption) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
}

type users struct {
	repository.Repository[*User]
	db                  *bun.DB
	hospitals           Hospitals
	stateMachine        StatusMachine
	stateMachineOptions []StateMachineOption
	useHashid           bool
	now                 func() time.Time
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

// UsersOption customizes the users repository.
type UsersOption func(*users)

// NewUsersRepository returns a UserDirectory backed by the users table.
func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	repoUsers := &users{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoUsers)
		}
	}

	if repoUsers.hospitals == nil {
		repoUsers.hospitals = NewHospitalsRepository(db, WithHospitalsClock(repoUsers.now))
	}

	// built once here, Transition only reads it
	if repoUsers.stateMachine == nil {
		repoUsers.stateMachine = NewStatusMachine(repoUsers.stateMachineOptions...)
	}

	return repoUsers
}

// WithUsersHospitals sets the hospitals repository used for co-creation.
func WithUsersHospitals(h Hospitals) UsersOption {
	return func(u *users) {
		u.hospitals = h
	}
}

// WithUsersStateMachine overrides the status machine.
func WithUsersStateMachine(sm StatusMachine) UsersOption {
	return func(u *users) {
		u.stateMachine = sm
	}
}

// WithUsersStateMachineOptions configures the default status machine.
func WithUsersStateMachineOptions(options ...StateMachineOption) UsersOption {
	return func(u *users) {
		if len(options) == 0 {
			return
		}
		u.stateMachineOptions = append(u.stateMachineOptions, options...)
		u.stateMachine = nil
	}
}

// WithHashidUserIDs derives user ids from the email address.
func WithHashidUserIDs() UsersOption {
	return func(u *users) {
		u.useHashid = true
	}
}

// WithUsersClock injects a custom clock.
func WithUsersClock(clock func() time.Time) UsersOption {
	return func(u *users) {
		if clock != nil {
			u.now = clock
		}
	}
}

func (u *users) runInTx(ctx context.Context, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled before transaction")
	default:
		return u.db.RunInTx(ctx, &sql.TxOptions{}, f)
	}
}

func (u *users) CreateDoctor(ctx context.Context, profile DoctorProfile, hospital *Hospital) (*User, error) {
	var created *User
	err := u.runInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		var err error
		created, err = u.CreateDoctorTx(ctx, tx, profile, hospital)
		return err
	})
	if err != nil {
		return nil, asRichError(err, "failed to create doctor")
	}
	return created, nil
}

// CreateDoctorTx inserts a pending doctor. The email check is the unique index.
func (u *users) CreateDoctorTx(ctx context.Context, tx bun.IDB, profile DoctorProfile, hospital *Hospital) (*User, error) {
	if hospital == nil {
		return nil, NewTenantMismatchError()
	}

	stored := &Hospital{}
	err := tx.NewSelect().Model(stored).Where("?TableAlias.id = ?", hospital.ID).Limit(1).Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, NewTenantMismatchError()
		}
		return nil, NewInternalError(err, "failed to load hospital")
	}

	now := u.now()
	record := &User{
		ID:           u.newUserID(profile.Email),
		IdentityID:   profile.IdentityID,
		Email:        NormalizeEmail(profile.Email),
		Name:         profile.Name,
		Role:         RoleDoctor,
		Specialty:    profile.Specialty,
		HospitalID:   stored.ID,
		HospitalName: stored.Name,
		Department:   profile.Department,
		LicenseID:    profile.LicenseID,
		Avatar:       profile.Avatar,
		Status:       UserStatusPending,
		CreatedAt:    &now,
		UpdatedAt:    &now,
	}

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		if IsUniqueViolation(err) {
			return nil, NewDuplicateEmailError(MessageDuplicateEmail)
		}
		return nil, NewInternalError(err, "failed to create doctor")
	}

	return record, nil
}

func (u *users) CreateAdminWithHospital(ctx context.Context, profile AdminProfile) (*User, *Hospital, error) {
	var admin *User
	var hospital *Hospital
	err := u.runInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		var err error
		admin, hospital, err = u.CreateAdminWithHospitalTx(ctx, tx, profile)
		return err
	})
	if err != nil {
		return nil, nil, asRichError(err, "failed to create hospital administrator")
	}
	return admin, hospital, nil
}

// CreateAdminWithHospitalTx must run inside a transaction: a failed admin
// insert has to take the hospital row with it.
func (u *users) CreateAdminWithHospitalTx(ctx context.Context, tx bun.IDB, profile AdminProfile) (*User, *Hospital, error) {
	adminID := u.newUserID(profile.Email)

	hospital, err := u.hospitals.CreateHospitalTx(ctx, tx, NewHospital{
		Name:         profile.HospitalName,
		ContactEmail: profile.HospitalEmail,
		ContactPhone: profile.HospitalPhone,
		AdminUserID:  adminID,
	})
	if err != nil {
		return nil, nil, err
	}

	now := u.now()
	admin := &User{
		ID:           adminID,
		IdentityID:   profile.IdentityID,
		Email:        NormalizeEmail(profile.Email),
		Name:         profile.Name,
		Role:         RoleAdmin,
		Specialty:    DefaultAdminSpecialty,
		HospitalID:   hospital.ID,
		HospitalName: hospital.Name,
		Avatar:       profile.Avatar,
		Status:       UserStatusApproved,
		CreatedAt:    &now,
		UpdatedAt:    &now,
	}

	if _, err := tx.NewInsert().Model(admin).Exec(ctx); err != nil {
		if IsUniqueViolation(err) {
			return nil, nil, NewDuplicateEmailError(MessageDuplicateAdmin)
		}
		return nil, nil, NewInternalError(err, "failed to create hospital administrator")
	}

	return admin, hospital, nil
}

// Transition loads the acting admin and the target inside one transaction.
// The target lookup is scoped to the admin's hospital, so a doctor of
// another tenant is indistinguishable from a missing one.
func (u *users) Transition(ctx context.Context, userID, actingAdminID uuid.UUID, event StatusEvent, opts ...TransitionOption) (*User, error) {
	var result *User
	err := u.runInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		actor, err := u.actingAdminTx(ctx, tx, actingAdminID)
		if err != nil {
			return err
		}

		target, err := u.doctorInHospitalTx(ctx, tx, userID, actor.HospitalID)
		if err != nil {
			return err
		}

		result, err = u.lifecycleMachine().Transition(
			ctx,
			txStatusWriter{users: u, tx: tx},
			ActorRef{ID: actor.ID.String(), Type: string(RoleAdmin)},
			target,
			event,
			opts...,
		)
		return err
	})
	if err != nil {
		return nil, asRichError(err, "failed to change doctor status")
	}
	return result, nil
}

func (u *users) ListDoctors(ctx context.Context, actingAdminID uuid.UUID, statuses ...UserStatus) ([]*User, error) {
	actor, err := u.actingAdminTx(ctx, u.db, actingAdminID)
	if err != nil {
		return nil, err
	}

	records := []*User{}
	q := u.db.NewSelect().
		Model(&records).
		Where("?TableAlias.hospital_id = ?", actor.HospitalID).
		Where("?TableAlias.user_role = ?", RoleDoctor)

	if len(statuses) > 0 {
		q = q.Where("?TableAlias.status IN (?)", bun.In(statuses))
	}

	if err := q.OrderExpr("?TableAlias.created_at ASC, ?TableAlias.email ASC").Scan(ctx); err != nil {
		return nil, NewInternalError(err, "failed to list doctors")
	}

	return records, nil
}

func (u *users) FindByIdentityID(ctx context.Context, identityID string) (*User, error) {
	return u.findOneBy(ctx, "identity_id", identityID)
}

func (u *users) FindByEmail(ctx context.Context, email string) (*User, error) {
	return u.findOneBy(ctx, "email", NormalizeEmail(email))
}

func (u *users) findOneBy(ctx context.Context, column, value string) (*User, error) {
	record := &User{}
	err := u.db.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{column: value})
		}
		return nil, NewInternalError(err, "failed to load user")
	}
	return record, nil
}

// CompareAndSetStatusTx updates the row only while its status still equals
// from, then returns the row as stored.
func (u *users) CompareAndSetStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, from, to UserStatus, opts ...StatusUpdateOption) (*User, error) {
	now := u.now()
	record := &User{
		ID:        id,
		Status:    to,
		UpdatedAt: &now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(record)
		}
	}

	_, err := tx.NewUpdate().
		Model(record).
		Column("status", "suspended_at", "updated_at").
		Where("id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return nil, NewInternalError(err, "failed to update doctor status")
	}

	stored := &User{}
	if err := tx.NewSelect().Model(stored).Where("?TableAlias.id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, NewInternalError(err, "failed to reload doctor")
	}
	return stored, nil
}

func (u *users) actingAdminTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	actor := &User{}
	err := tx.NewSelect().Model(actor).Where("?TableAlias.id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, NewPermissionError()
		}
		return nil, NewInternalError(err, "failed to load acting user")
	}

	if !actor.IsAdmin() || actor.Status != UserStatusApproved {
		return nil, NewPermissionError()
	}

	return actor, nil
}

func (u *users) doctorInHospitalTx(ctx context.Context, tx bun.IDB, id, hospitalID uuid.UUID) (*User, error) {
	target := &User{}
	err := tx.NewSelect().
		Model(target).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.hospital_id = ?", hospitalID).
		Where("?TableAlias.user_role = ?", RoleDoctor).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, NewPermissionError()
		}
		return nil, NewInternalError(err, "failed to load doctor")
	}
	return target, nil
}

func (u *users) newUserID(email string) uuid.UUID {
	if u.useHashid {
		if id, err := hashid.NewUUID(NormalizeEmail(email)); err == nil {
			return id
		}
	}
	return uuid.New()
}

func (u *users) lifecycleMachine() StatusMachine {
	return u.stateMachine
}

type txStatusWriter struct {
	users *users
	tx    bun.IDB
}

func (w txStatusWriter) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to UserStatus, opts ...StatusUpdateOption) (*User, error) {
	return w.users.CompareAndSetStatusTx(ctx, w.tx, id, from, to, opts...)
}
