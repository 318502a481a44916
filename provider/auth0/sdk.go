package auth0

import (
	"context"
	"fmt"
	"strings"

	"github.com/auth0/go-auth0/authentication"
	"github.com/auth0/go-auth0/authentication/database"
	"github.com/auth0/go-auth0/authentication/oauth"
	"github.com/auth0/go-auth0/management"
)

// ManagementDirectory implements Directory with the Management API.
type ManagementDirectory struct {
	client     *management.Management
	connection string
}

var _ Directory = (*ManagementDirectory)(nil)

// NewManagementDirectory creates a Management API client using client credentials.
func NewManagementDirectory(ctx context.Context, cfg Config) (*ManagementDirectory, error) {
	domain := cfg.host()
	if domain == "" {
		return nil, fmt.Errorf("auth0 management: domain is required")
	}

	client, err := management.New(
		domain,
		management.WithClientCredentials(ctx, cfg.ClientID, cfg.ClientSecret),
	)
	if err != nil {
		return nil, fmt.Errorf("auth0 management: failed to create client: %w", err)
	}

	return &ManagementDirectory{client: client, connection: cfg.connection()}, nil
}

func (d *ManagementDirectory) CreateUser(ctx context.Context, email, password string) (Account, error) {
	verify := false
	user := &management.User{
		Connection:  &d.connection,
		Email:       &email,
		Password:    &password,
		VerifyEmail: &verify,
	}
	if err := d.client.User.Create(ctx, user); err != nil {
		return Account{}, err
	}
	return accountOf(user), nil
}

func (d *ManagementDirectory) DeleteUser(ctx context.Context, id string) error {
	return d.client.User.Delete(ctx, id)
}

func (d *ManagementDirectory) FindByEmail(ctx context.Context, email string) (*Account, error) {
	users, err := d.client.User.ListByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	// the same email can exist in other connections
	for _, user := range users {
		if user == nil || !inConnection(user, d.connection) {
			continue
		}
		account := accountOf(user)
		return &account, nil
	}
	return nil, nil
}

func (d *ManagementDirectory) SendVerificationEmail(ctx context.Context, id string) error {
	return d.client.Job.VerifyEmail(ctx, &management.Job{UserID: &id})
}

// PasswordClient implements PasswordAuthenticator with the Authentication API.
type PasswordClient struct {
	client     *authentication.Authentication
	connection string
}

var _ PasswordAuthenticator = (*PasswordClient)(nil)

// NewPasswordClient creates an Authentication API client.
func NewPasswordClient(ctx context.Context, cfg Config) (*PasswordClient, error) {
	domain := cfg.host()
	if domain == "" {
		return nil, fmt.Errorf("auth0 authentication: domain is required")
	}

	client, err := authentication.New(
		ctx,
		domain,
		authentication.WithClientID(cfg.ClientID),
		authentication.WithClientSecret(cfg.ClientSecret),
	)
	if err != nil {
		return nil, fmt.Errorf("auth0 authentication: failed to create client: %w", err)
	}

	return &PasswordClient{client: client, connection: cfg.connection()}, nil
}

func (p *PasswordClient) LoginWithPassword(ctx context.Context, email, password string) error {
	_, err := p.client.OAuth.LoginWithPassword(ctx, oauth.LoginWithPasswordRequest{
		Username: email,
		Password: password,
		Realm:    p.connection,
	}, oauth.IDTokenValidationOptions{})
	return err
}

func (p *PasswordClient) RequestPasswordReset(ctx context.Context, email string) error {
	_, err := p.client.Database.ChangePassword(ctx, database.ChangePasswordRequest{
		Email:      email,
		Connection: p.connection,
	})
	return err
}

func accountOf(user *management.User) Account {
	return Account{
		ID:            user.GetID(),
		Email:         user.GetEmail(),
		EmailVerified: user.GetEmailVerified(),
	}
}

func inConnection(user *management.User, connection string) bool {
	if len(user.Identities) == 0 {
		return true
	}
	for _, identity := range user.Identities {
		if identity != nil && strings.EqualFold(identity.GetConnection(), connection) {
			return true
		}
	}
	return false
}
