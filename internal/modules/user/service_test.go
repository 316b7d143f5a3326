package user

import (
	"context"
	"testing"

	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestRegisterUser(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryRepository())

	u, err := svc.RegisterUser(ctx, RegisterRequest{
		Email:    "  Jane@Example.com ",
		Password: "correct horse",
		Role:     "patient",
	})
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", u.Email)
	assert.Equal(t, RoleCustomer, u.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("correct horse")))

	got, err := svc.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)

	_, err = svc.RegisterUser(ctx, RegisterRequest{Email: "jane@example.com", Password: "another pass"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestRegisterUserValidation(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	cases := map[string]RegisterRequest{
		"bad email":      {Email: "nope", Password: "long enough"},
		"short password": {Email: "a@b.co", Password: "short"},
		"unknown role":   {Email: "a@b.co", Password: "long enough", Role: "wizard"},
		"admin role":     {Email: "a@b.co", Password: "long enough", Role: "admin"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.RegisterUser(context.Background(), req)
			assert.True(t, apperr.IsValidation(err), "got %v", err)
		})
	}
}

func TestIDsByRole(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryRepository())

	d1, err := svc.RegisterUser(ctx, RegisterRequest{Email: "d1@x.io", Password: "password1", Role: "delivery_partner"})
	require.NoError(t, err)
	_, err = svc.RegisterUser(ctx, RegisterRequest{Email: "c1@x.io", Password: "password1"})
	require.NoError(t, err)
	d2, err := svc.RegisterUser(ctx, RegisterRequest{Email: "d2@x.io", Password: "password1", Role: "driver"})
	require.NoError(t, err)

	ids, err := svc.IDsByRole(ctx, RoleDeliveryPartner)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{d1.ID, d2.ID}, ids)
}

func TestParseRole(t *testing.T) {
	for in, want := range map[string]Role{
		"":                 RoleCustomer,
		"Patient":          RoleCustomer,
		"pharmacy":         RolePharmacy,
		"delivery-partner": RoleDeliveryPartner,
		"ADMIN":            RoleAdmin,
	} {
		got, ok := ParseRole(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseRole("root")
	assert.False(t, ok)
}
