package sessions

import (
	"context"

	"github.com/goliatone/go-router"
)

// SubjectContextKey is where middleware stores the authenticated subject
// ID in router locals.
const SubjectContextKey = "subject_id"

var userCtxKey = &contextKey{"user"}
var subjectCtxKey = &contextKey{"subject"}

type contextKey struct {
	name string
}

// WithUserContext sets the User in the given context
func WithUserContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// UserFromContext finds the user from the context.
func UserFromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok
}

// WithSubjectID sets the verified subject ID in the given context
func WithSubjectID(r context.Context, subjectID string) context.Context {
	return context.WithValue(r, subjectCtxKey, subjectID)
}

// SubjectID extracts the verified subject ID from the standard context
func SubjectID(ctx context.Context) (string, bool) {
	raw, ok := ctx.Value(subjectCtxKey).(string)
	return raw, ok
}

// RouterSubjectID extracts the subject ID stored in router locals by
// the grant middleware.
func RouterSubjectID(ctx router.Context, key string) (string, bool) {
	if key == "" {
		key = SubjectContextKey
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return "", false
	}
	subjectID, ok := raw.(string)
	return subjectID, ok
}
