package resources

import (
	"context"

	"github.com/jrsteele09/go-auth-session/authmodel"
)

const (
	ProfileKey      = "profile"
	SettingsKey     = "settings"
	EntitlementsKey = "entitlements"
)

// EntitlementsUnverified is recorded when the plan could not be confirmed.
const EntitlementsUnverified = "We could not verify your plan. Free tier features are available in the meantime."

// API fetches the user scoped resources. apiclient.Client satisfies it.
type API interface {
	Profile(ctx context.Context) (authmodel.Document, error)
	Settings(ctx context.Context) (authmodel.Document, error)
	Entitlements(ctx context.Context) (authmodel.Entitlements, error)
}

// UserResources groups the loaders of one session.
type UserResources struct {
	Profile      *Loader[authmodel.Document]
	Settings     *Loader[authmodel.Document]
	Entitlements *Loader[authmodel.Entitlements]
}

func NewUserResources(api API, deps Deps) *UserResources {
	return &UserResources{
		Profile:      NewLoader(ProfileKey, deps, api.Profile).WithClone(authmodel.Document.Clone),
		Settings:     NewLoader(SettingsKey, deps, api.Settings).WithClone(authmodel.Document.Clone),
		Entitlements: NewFallbackLoader(EntitlementsKey, deps, api.Entitlements, authmodel.FreeTierFallback, EntitlementsUnverified),
	}
}

// Clear empties every loader.
func (r *UserResources) Clear() {
	r.Profile.Clear()
	r.Settings.Clear()
	r.Entitlements.Clear()
}
