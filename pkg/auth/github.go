package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mscno/gistbackup/pkg/backup"
	"github.com/mscno/gistbackup/pkg/gist"
	"github.com/mscno/gistbackup/pkg/oskeyring"
	"github.com/mscno/gistbackup/pkg/session"
	"github.com/mscno/gistbackup/pkg/store"
)

// AccountStore is the local persistence the provider needs. *store.BoltStore implements it.
type AccountStore interface {
	Get(accountID, key string) ([]byte, error)
	Active(prefix string) (int, error)
	NextIndex(prefix string) (int, error)
	CommitAccount(prefix string, index int, key string, value []byte) error
	RemoveAccount(prefix string, index int) error
}

var _ AccountStore = (*store.BoltStore)(nil)

// Config holds the collaborators of a GithubProvider.
type Config struct {
	Store   AccountStore
	Keyring oskeyring.Service
	// Backup produces the payload for a newly created backup gist.
	Backup backup.Source
	// NewClient builds a gists client for a token.
	NewClient backup.ClientFactory
	// EventBuffer is the capacity of the event channel. Defaults to 1.
	EventBuffer int
	Logger      *slog.Logger
}

// GithubProvider keeps application backups in a private gist of the user.
type GithubProvider struct {
	store     AccountStore
	keyring   oskeyring.Service
	source    backup.Source
	newClient backup.ClientFactory
	logger    *slog.Logger

	cache  session.Cache
	events chan Event
}

// NewGithubProvider creates a new GithubProvider.
func NewGithubProvider(cfg Config) (*GithubProvider, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Keyring == nil {
		return nil, errors.New("keyring is required")
	}
	if cfg.Backup == nil {
		return nil, errors.New("backup source is required")
	}
	if cfg.NewClient == nil {
		return nil, errors.New("gist client factory is required")
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &GithubProvider{
		store:     cfg.Store,
		keyring:   cfg.Keyring,
		source:    cfg.Backup,
		newClient: cfg.NewClient,
		logger:    cfg.Logger.With("provider", ProviderName),
		events:    make(chan Event, cfg.EventBuffer),
	}, nil
}

func (p *GithubProvider) Name() string             { return ProviderName }
func (p *GithubProvider) RequiresPassword() bool   { return true }
func (p *GithubProvider) CreateAccountURL() string { return CreateAccountURL }

// Events delivers post-login events. Events that find the buffer full are dropped.
func (p *GithubProvider) Events() <-chan Event {
	return p.events
}

// Current returns the cached session of the active account as of the last
// Initialize or Logout.
func (p *GithubProvider) Current() (session.Session, bool) {
	return p.cache.Load()
}

// Login finds the user's backup gist, creating it from the current backup if
// there is none, and commits the session to a new account slot.
//
// The slot is only written once everything succeeded, so a failed login leaves
// the previously active account and its session untouched. Panics anywhere
// in the sequence are reported as a failed login.
func (p *GithubProvider) Login(ctx context.Context, data LoginData) (err error) {
	token := data.Password
	if token == "" {
		return ErrTokenRequired
	}
	defer func() {
		if r := recover(); r != nil {
			err = p.loginFailed(ctx, "login panicked", fmt.Errorf("unexpected panic: %v", r))
		}
	}()

	staged, err := p.store.NextIndex(IDPrefix)
	if err != nil {
		return p.loginFailed(ctx, "failed to stage account slot", err)
	}
	logger := p.logger.With("account", staged)

	sess, adopted, err := p.establish(ctx, token)
	if err != nil {
		return p.loginFailed(ctx, "failed to establish backup gist", err)
	}

	encoded, err := session.Encode(sess)
	if err != nil {
		return p.loginFailed(ctx, "failed to encode session", err)
	}
	if err := p.store.CommitAccount(IDPrefix, staged, session.Key, encoded); err != nil {
		return p.loginFailed(ctx, "failed to commit account", err)
	}

	if adopted {
		p.emit(ctx, Event{Kind: EventRestorePrompt, AccountIndex: staged, Session: sess})
	}
	logger.InfoContext(ctx, "logged in", "gist", sess.GistID, "user", sess.UserName, "adopted", adopted)
	return nil
}

// establish runs the remote part of a login. It reports whether an existing
// gist was adopted rather than created.
func (p *GithubProvider) establish(ctx context.Context, token string) (session.Session, bool, error) {
	client, err := p.newClient(token)
	if err != nil {
		return session.Session{}, false, fmt.Errorf("failed to create gist client: %w", err)
	}

	gists, err := client.List(ctx)
	if err != nil {
		return session.Session{}, false, err
	}

	// Only the first file is inspected; a backup gist holds exactly one file.
	for _, g := range gists {
		if g.FirstFileName() == backup.FileName {
			s, err := sessionFromGist(g, token)
			return s, true, err
		}
	}

	payload, err := p.source.Backup(ctx)
	if err != nil {
		return session.Session{}, false, fmt.Errorf("failed to read current backup: %w", err)
	}
	created, err := client.Create(ctx, gist.NewGist{
		Description: backup.Description,
		Public:      false,
		Files:       map[string]string{backup.FileName: string(payload)},
	})
	if err != nil {
		return session.Session{}, false, err
	}
	s, err := sessionFromGist(created, token)
	return s, false, err
}

// sessionFromGist keeps the caller's token; nothing from the response replaces it.
func sessionFromGist(g gist.Gist, token string) (session.Session, error) {
	if g.ID == "" {
		return session.Session{}, fmt.Errorf("%w: gist has no id", gist.ErrDecode)
	}
	if g.OwnerLogin == "" {
		return session.Session{}, fmt.Errorf("%w: gist %s has no owner", gist.ErrDecode, g.ID)
	}
	return session.Session{
		GistID:     g.ID,
		Token:      token,
		UserName:   g.OwnerLogin,
		UserAvatar: g.OwnerAvatarURL,
	}, nil
}

func (p *GithubProvider) loginFailed(ctx context.Context, msg string, err error) error {
	p.logger.ErrorContext(ctx, msg, "error", err)
	return fmt.Errorf("%w: %w", ErrLoginFailed, err)
}

func (p *GithubProvider) emit(ctx context.Context, ev Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.WarnContext(ctx, "event dropped, channel full", "event", ev.Kind.String())
	}
}

// LatestLoginData returns the gist id, token and user name of the active account.
func (p *GithubProvider) LatestLoginData(ctx context.Context) (LoginData, bool) {
	sess, _, ok := p.activeSession(ctx)
	if !ok {
		return LoginData{}, false
	}
	return LoginData{
		Server:   sess.GistID,
		Password: sess.Token,
		Username: sess.UserName,
	}, true
}

// Initialize loads the active account's session into the cache and registers
// its token under the gist id in the account's keyring namespace. With no
// usable session the cache is emptied and nothing else happens.
func (p *GithubProvider) Initialize(ctx context.Context) {
	sess, index, ok := p.activeSession(ctx)
	if !ok || !sess.Complete() {
		p.cache.Clear()
		return
	}
	p.cache.Store(sess)

	service := oskeyring.AccountService(store.AccountID(IDPrefix, index))
	if err := p.keyring.Set(service, sess.GistID, sess.Token); err != nil {
		p.logger.WarnContext(ctx, "failed to register gist token in keyring", "account", index, "error", err)
	}
}

// Logout deletes the active account's session and every auxiliary key of the
// account. Afterwards no account is active and the cache is empty.
func (p *GithubProvider) Logout(ctx context.Context) error {
	defer p.cache.Clear()

	index, err := p.store.Active(IDPrefix)
	if err != nil {
		return fmt.Errorf("failed to read active account: %w", err)
	}
	if index == store.NoAccount {
		return nil
	}

	accountID := store.AccountID(IDPrefix, index)
	var errs []error
	if err := p.store.RemoveAccount(IDPrefix, index); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove account %s: %w", accountID, err))
	}
	if err := p.keyring.DeleteAll(oskeyring.AccountService(accountID)); err != nil {
		errs = append(errs, fmt.Errorf("failed to clear keyring for %s: %w", accountID, err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "logged out", "account", index)
	return nil
}

// LoginInfo returns the avatar, name and slot index of the active account.
func (p *GithubProvider) LoginInfo(ctx context.Context) (LoginInfo, bool) {
	sess, index, ok := p.activeSession(ctx)
	if !ok {
		return LoginInfo{}, false
	}
	return LoginInfo{
		ProfilePicture: sess.UserAvatar,
		Name:           sess.UserName,
		AccountIndex:   index,
	}, true
}

// activeSession reads the persisted session of the active account. Read
// problems are logged and reported as absence.
func (p *GithubProvider) activeSession(ctx context.Context) (session.Session, int, bool) {
	index, err := p.store.Active(IDPrefix)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to read active account", "error", err)
		return session.Session{}, store.NoAccount, false
	}
	if index == store.NoAccount {
		return session.Session{}, store.NoAccount, false
	}

	data, err := p.store.Get(store.AccountID(IDPrefix, index), session.Key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.WarnContext(ctx, "failed to read session", "account", index, "error", err)
		}
		return session.Session{}, index, false
	}
	sess, err := session.Decode(data)
	if err != nil && !errors.Is(err, session.ErrIncomplete) {
		p.logger.WarnContext(ctx, "stored session is unreadable", "account", index, "error", err)
		return session.Session{}, index, false
	}
	return sess, index, true
}

var _ Provider = (*GithubProvider)(nil)
