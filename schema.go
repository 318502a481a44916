package access

import (
	"context"

	"github.com/uptrace/bun"
)

// SchemaModels lists the tables owned by this package, in creation order.
func SchemaModels() []any {
	return []any{
		(*Hospital)(nil),
		(*User)(nil),
		(*Credential)(nil),
		(*CredentialToken)(nil),
		(*SessionRecord)(nil),
	}
}

// CreateSchema creates missing tables and indexes straight from the models.
// Servers apply the SQL files in GetMigrationsFS instead; this is for tests
// and embedders without a migration runner. Uniqueness of hospital names
// and emails lives in these unique columns.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range SchemaModels() {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return NewInternalError(err, "failed to create table")
		}
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*User)(nil), "users_hospital_role_status_idx", []string{"hospital_id", "user_role", "status"}},
		{(*CredentialToken)(nil), "credential_tokens_credential_idx", []string{"credential_id"}},
		{(*SessionRecord)(nil), "sessions_identity_idx", []string{"identity_id"}},
	}

	for _, idx := range indexes {
		_, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return NewInternalError(err, "failed to create index")
		}
	}

	return nil
}
