package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/internal/auth"
)

func TestUserFromContext(t *testing.T) {
	assert.Nil(t, auth.UserFromContext(context.Background()))

	ctx := auth.WithUser(context.Background(), &auth.User{ID: "user-1", Role: auth.RoleUser})
	user := auth.UserFromContext(ctx)
	require.NotNil(t, user)
	assert.Equal(t, "user-1", user.ID)
	assert.False(t, user.Role.IsAdmin())
	assert.True(t, auth.RoleAdmin.IsAdmin())
}
