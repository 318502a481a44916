package access_test

import (
	"testing"

	"github.com/goliatone/go-access"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordWithCost(t *testing.T) {
	tests := []struct {
		name     string
		password string
		cost     int
		wantErr  bool
	}{
		{
			name:     "Valid password",
			password: "securePassword123!",
			cost:     bcrypt.MinCost,
		},
		{
			name:     "Out of range cost falls back",
			password: "securePassword123!",
			cost:     bcrypt.MaxCost + 1,
		},
		{
			name:     "Empty password",
			password: "",
			cost:     bcrypt.MinCost,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := access.HashPasswordWithCost(tt.password, tt.cost)

			if tt.wantErr {
				assert.ErrorIs(t, err, access.ErrNoEmptyString)
				return
			}

			assert.NoError(t, err)
			assert.NotEmpty(t, hash)
			assert.NoError(t, access.ComparePasswordAndHash(tt.password, hash))
		})
	}
}

func TestComparePasswordAndHash(t *testing.T) {
	password := "testPassword123!"
	hash, err := access.HashPasswordWithCost(password, bcrypt.MinCost)
	assert.NoError(t, err)

	tests := []struct {
		name     string
		password string
		hash     string
		wantErr  bool
	}{
		{
			name:     "Matching password",
			password: password,
			hash:     hash,
		},
		{
			name:     "Wrong password",
			password: "wrongPassword",
			hash:     hash,
			wantErr:  true,
		},
		{
			name:     "Invalid hash",
			password: password,
			hash:     "invalidhash",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := access.ComparePasswordAndHash(tt.password, tt.hash)

			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			assert.Error(t, err)
			if tt.hash == hash {
				assert.Equal(t, access.ErrMismatchedHashAndPassword, err)
			}
		})
	}
}
