// Package auth carries the caller identity established by the HTTP layer.
// Authentication itself happens upstream; requests arrive with the user id
// already asserted in a header.
package auth

import "context"

type contextKey struct{}

// UserRole separates operators from end users.
type UserRole string

const (
	RoleAdmin UserRole = "admin" // presented the admin token
	RoleUser  UserRole = "user"
)

func (r UserRole) IsAdmin() bool {
	return r == RoleAdmin
}

func (r UserRole) String() string {
	return string(r)
}

// User is the authenticated caller of a request.
type User struct {
	ID   string
	Role UserRole
}

func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext returns nil for anonymous requests.
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(contextKey{}).(*User)
	return user
}
