package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/repository/memstore"
)

func newTestAuth() AuthService {
	return NewAuthService(memstore.New().Users, []byte("test-secret"), time.Hour, zap.NewNop())
}

func TestRegister_FirstUserBecomesAdmin(t *testing.T) {
	auth := newTestAuth()

	user, err := auth.Register("root", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, user.Role)
	assert.NotContains(t, user.PasswordHash, "correct horse")

	_, err = auth.Register("second", "another password")
	assert.ErrorIs(t, err, ErrUserAlreadyExists)
}

func TestRegister_Validation(t *testing.T) {
	auth := newTestAuth()

	_, err := auth.Register(" ", "long enough")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "username", verr.Field)

	_, err = auth.Register("root", "short")
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "password", verr.Field)
}

func TestLoginAndParseToken(t *testing.T) {
	auth := newTestAuth()
	_, err := auth.Register("root", "correct horse")
	require.NoError(t, err)

	_, _, err = auth.Login("root", "wrong horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = auth.Login("nobody", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, expires, err := auth.Login("root", "correct horse")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	claims, err := auth.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "root", claims.Username)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	other := NewAuthService(memstore.New().Users, []byte("other-secret"), time.Hour, zap.NewNop())
	_, err = other.ParseToken(token)
	assert.Error(t, err)
}
