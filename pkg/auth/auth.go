package auth

import (
	"context"
	"errors"

	"github.com/mscno/gistbackup/pkg/session"
)

const (
	// ProviderName is shown to users when choosing a sync provider.
	ProviderName = "Github"
	// IDPrefix namespaces the account slots of this provider in the store.
	IDPrefix = "Github"
	// CreateAccountURL opens GitHub's token form with the gist scope preselected.
	CreateAccountURL = "https://github.com/settings/tokens/new?description=Cloudstream+Backup&scopes=gist"
)

var (
	// ErrTokenRequired is returned by Login when no token was supplied. No remote call is made.
	ErrTokenRequired = errors.New("a GitHub personal access token is required")
	// ErrLoginFailed wraps every other reason a login did not complete.
	ErrLoginFailed = errors.New("login failed")
)

// LoginData is the generic credential record shared by in-app auth providers.
// For GitHub, Password carries the token and Server the backup gist id.
type LoginData struct {
	Username string
	Password string
	Server   string
	Email    string
}

// LoginInfo is what account pickers and profile screens display.
type LoginInfo struct {
	ProfilePicture string
	Name           string
	AccountIndex   int
}

// EventKind identifies a post-login event.
type EventKind int

const (
	// EventRestorePrompt is emitted after adopting an existing backup gist,
	// so the UI can offer to restore from it.
	EventRestorePrompt EventKind = iota + 1
)

func (k EventKind) String() string {
	switch k {
	case EventRestorePrompt:
		return "restore-prompt"
	default:
		return "unknown"
	}
}

// Event is delivered on the provider's event channel after a login.
type Event struct {
	Kind         EventKind
	AccountIndex int
	Session      session.Session
}

// Provider defines the interface for in-app authentication providers.
type Provider interface {
	// Name is the display name of the provider.
	Name() string
	// RequiresPassword reports whether Login needs LoginData.Password.
	RequiresPassword() bool
	// CreateAccountURL is where users obtain credentials.
	CreateAccountURL() string

	// Login validates the credentials and stores a session in a new account slot.
	Login(ctx context.Context, data LoginData) error
	// Logout removes the active account's session and auxiliary keys.
	Logout(ctx context.Context) error
	// Initialize loads the active account's session into the provider's cache.
	Initialize(ctx context.Context)
	// LatestLoginData returns the credentials of the active account, if any.
	LatestLoginData(ctx context.Context) (LoginData, bool)
	// LoginInfo returns display information for the active account, if any.
	LoginInfo(ctx context.Context) (LoginInfo, bool)
}
