package settings

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

// IdentitySource resolves the user id settings are keyed by
type IdentitySource interface {
	UserID(ctx context.Context) (string, error)
}

// AuthenticatedIdentity is the subject of a verified access token
type AuthenticatedIdentity string

// UserID returns the token subject
func (a AuthenticatedIdentity) UserID(ctx context.Context) (string, error) {
	if a == "" {
		return "", types.NewAuthenticationError(types.ErrCodeUnauthorized, "no authenticated subject")
	}
	return string(a), nil
}

// IdentityStore persists the anonymous identity
type IdentityStore interface {
	Identity() (string, error)
	SaveIdentity(id string) (string, error)
}

// AnonymousIdentity is a locally generated id that is created once and
// reused afterwards. Nothing on the server binds it to a person, so it is
// only suitable as a fallback when no token is available.
type AnonymousIdentity struct {
	store  IdentityStore
	logger *logrus.Entry
	once   sync.Once
}

// NewAnonymousIdentity creates an identity source backed by store
func NewAnonymousIdentity(store IdentityStore, log *logrus.Entry) *AnonymousIdentity {
	return &AnonymousIdentity{store: store, logger: log}
}

// UserID returns the stored identity, generating and persisting it on
// first use
func (a *AnonymousIdentity) UserID(ctx context.Context) (string, error) {
	a.once.Do(func() {
		a.logger.Warn("Settings are keyed by an unverified local identity; sign in to bind them to your account")
	})

	id, err := a.store.Identity()
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	return a.store.SaveIdentity(uuid.NewString())
}
