package access

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Hospitals is the bun backed TenantDirectory.
type Hospitals interface {
	repository.Repository[*Hospital]
	TenantDirectory
}

type hospitals struct {
	repository.Repository[*Hospital]
	db  *bun.DB
	now func() time.Time
}

var _ Hospitals = (*hospitals)(nil)

// HospitalsOption customizes the hospitals repository.
type HospitalsOption func(*hospitals)

// WithHospitalsClock injects a custom clock.
func WithHospitalsClock(clock func() time.Time) HospitalsOption {
	return func(h *hospitals) {
		if clock != nil {
			h.now = clock
		}
	}
}

// NewHospitalsRepository returns a TenantDirectory backed by the hospitals table.
func NewHospitalsRepository(db *bun.DB, opts ...HospitalsOption) Hospitals {
	repo := repository.NewRepository[*Hospital](db, repository.ModelHandlers[*Hospital]{
		NewRecord: func() *Hospital { return &Hospital{} },
		GetID: func(h *Hospital) uuid.UUID {
			if h == nil {
				return uuid.Nil
			}
			return h.ID
		},
		SetID: func(h *Hospital, id uuid.UUID) {
			if h != nil {
				h.ID = id
			}
		},
		GetIdentifier: func() string {
			return "name_key"
		},
	})

	h := &hospitals{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *hospitals) CreateHospital(ctx context.Context, input NewHospital) (*Hospital, error) {
	return h.CreateHospitalTx(ctx, h.db, input)
}

// CreateHospitalTx relies on the unique name_key index: the existence check
// and the insert are the same statement.
func (h *hospitals) CreateHospitalTx(ctx context.Context, tx bun.IDB, input NewHospital) (*Hospital, error) {
	name := strings.Join(strings.Fields(input.Name), " ")
	if name == "" {
		return nil, NewValidationError(nil, "Hospital name is required")
	}

	phone, err := NormalizePhone(input.ContactPhone)
	if err != nil {
		return nil, NewValidationError(err, "Invalid hospital phone number")
	}

	now := h.now()
	record := &Hospital{
		ID:           uuid.New(),
		Name:         name,
		NameKey:      HospitalNameKey(name),
		AdminUserID:  input.AdminUserID,
		ContactEmail: NormalizeEmail(input.ContactEmail),
		ContactPhone: phone,
		Domain:       DomainFromEmail(input.ContactEmail),
		CreatedAt:    &now,
	}

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		if uniqueViolationOn(err, "name_key") {
			return nil, NewDuplicateTenantError(name)
		}
		return nil, NewInternalError(err, "failed to create hospital")
	}

	return record, nil
}

func (h *hospitals) FindHospitalByIDAndName(ctx context.Context, id, name string) (*Hospital, error) {
	return h.FindHospitalByIDAndNameTx(ctx, h.db, id, name)
}

// FindHospitalByIDAndNameTx reports a mismatch on either field as not found.
func (h *hospitals) FindHospitalByIDAndNameTx(ctx context.Context, tx bun.IDB, id, name string) (*Hospital, error) {
	notFound := repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"hospital_id": id,
		})

	hid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, notFound
	}

	record := &Hospital{}
	err = tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", hid).
		Where("?TableAlias.name_key = ?", HospitalNameKey(name)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, notFound
		}
		return nil, NewInternalError(err, "failed to look up hospital")
	}

	return record, nil
}

func (h *hospitals) FindHospitalByName(ctx context.Context, name string) (*Hospital, error) {
	key := HospitalNameKey(name)
	if key == "" {
		return nil, repository.NewRecordNotFound()
	}
	return h.Repository.GetByIdentifier(ctx, key)
}

// isNotFound covers both the repository's and bun's not found errors.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}
