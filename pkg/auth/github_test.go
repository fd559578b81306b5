package auth

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/mscno/gistbackup/pkg/backup"
	"github.com/mscno/gistbackup/pkg/gist"
	"github.com/mscno/gistbackup/pkg/oskeyring"
	"github.com/mscno/gistbackup/pkg/session"
	"github.com/mscno/gistbackup/pkg/store"
	"github.com/mscno/gistbackup/testutl"
)

type testEnv struct {
	provider *GithubProvider
	store    *store.BoltStore
	keyring  *oskeyring.MemoryService
}

func newTestEnv(t *testing.T, newClient backup.ClientFactory, payload string) *testEnv {
	t.Helper()
	key := make([]byte, store.KeySize)
	sealer, err := store.NewSealer(key)
	assert.NoError(t, err)
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "store.db"), sealer)
	assert.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ks := oskeyring.NewMemoryService()
	p, err := NewGithubProvider(Config{
		Store:     st,
		Keyring:   ks,
		Backup:    backup.StaticSource(payload),
		NewClient: newClient,
	})
	assert.NoError(t, err)
	return &testEnv{provider: p, store: st, keyring: ks}
}

func fakeClients(fake *testutl.FakeGitHub) backup.ClientFactory {
	return func(token string) (gist.API, error) {
		return gist.NewClient(gist.Config{Token: token, BaseURL: fake.URL()})
	}
}

func (e *testEnv) persisted(t *testing.T, index int) session.Session {
	t.Helper()
	data, err := e.store.Get(store.AccountID(IDPrefix, index), session.Key)
	assert.NoError(t, err)
	sess, err := session.Decode(data)
	assert.NoError(t, err)
	return sess
}

func noEvent(t *testing.T, p *GithubProvider) {
	t.Helper()
	select {
	case ev := <-p.Events():
		t.Fatalf("unexpected event %v", ev.Kind)
	default:
	}
}

func TestLogin_AdoptsExistingGist(t *testing.T) {
	fake := testutl.NewFakeGitHub(t, "abc123", "alice", "http://x/a.png")
	fake.AddGist(testutl.FakeFile{Name: backup.FileName, Content: `{"old":true}`})
	env := newTestEnv(t, fakeClients(fake), "{}")
	ctx := context.Background()

	err := env.provider.Login(ctx, LoginData{Password: "abc123"})
	assert.NoError(t, err)

	assert.Equal(t, session.Session{
		GistID:     "g1",
		Token:      "abc123",
		UserName:   "alice",
		UserAvatar: "http://x/a.png",
	}, env.persisted(t, 1))
	assert.Equal(t, 0, len(fake.Creates()))

	select {
	case ev := <-env.provider.Events():
		assert.Equal(t, EventRestorePrompt, ev.Kind)
		assert.Equal(t, 1, ev.AccountIndex)
		assert.Equal(t, "g1", ev.Session.GistID)
	default:
		t.Fatal("expected a restore prompt event")
	}

	for _, accept := range fake.Accepts() {
		assert.Equal(t, gist.MediaType, accept)
	}
}

func TestLogin_CreatesGistWhenNoneMatches(t *testing.T) {
	fake := testutl.NewFakeGitHub(t, "abc123", "alice", "http://x/a.png")
	fake.AddGist(testutl.FakeFile{Name: "notes.md", Content: "hi"})
	env := newTestEnv(t, fakeClients(fake), "{}")

	err := env.provider.Login(context.Background(), LoginData{Password: "abc123"})
	assert.NoError(t, err)

	creates := fake.Creates()
	assert.Equal(t, 1, len(creates))
	assert.Equal(t, backup.Description, creates[0].Description)
	assert.False(t, creates[0].Public)
	assert.Equal(t, 1, len(creates[0].Files))
	assert.Equal(t, "{}", creates[0].Files[backup.FileName].Content)

	sess := env.persisted(t, 1)
	assert.Equal(t, "g2", sess.GistID)
	assert.Equal(t, "abc123", sess.Token)
	assert.Equal(t, "alice", sess.UserName)
	noEvent(t, env.provider)
}

func TestLogin_OnlyFirstFileIsInspected(t *testing.T) {
	fake := testutl.NewFakeGitHub(t, "abc123", "alice", "")
	fake.AddGist(testutl.FakeFile{Name: "notes.md"}, testutl.FakeFile{Name: backup.FileName})
	env := newTestEnv(t, fakeClients(fake), "{}")

	assert.NoError(t, env.provider.Login(context.Background(), LoginData{Password: "abc123"}))
	assert.Equal(t, 1, len(fake.Creates()))
	assert.Equal(t, "g2", env.persisted(t, 1).GistID)
}

func TestLogin_AdoptsFirstOfSeveralMatches(t *testing.T) {
	fake := testutl.NewFakeGitHub(t, "abc123", "alice", "")
	fake.AddGist(testutl.FakeFile{Name: "notes.md"})
	fake.AddGist(testutl.FakeFile{Name: backup.FileName})
	fake.AddGist(testutl.FakeFile{Name: backup.FileName})
	env := newTestEnv(t, fakeClients(fake), "{}")

	assert.NoError(t, env.provider.Login(context.Background(), LoginData{Password: "abc123"}))
	assert.Equal(t, "g2", env.persisted(t, 1).GistID)
	assert.Equal(t, 0, len(fake.Creates()))
}

func TestLogin_TokenRequired(t *testing.T) {
	calls := 0
	env := newTestEnv(t, func(token string) (gist.API, error) {
		calls++
		return nil, errors.New("should not be called")
	}, "{}")

	err := env.provider.Login(context.Background(), LoginData{Username: "alice"})
	assert.True(t, errors.Is(err, ErrTokenRequired))
	assert.False(t, errors.Is(err, ErrLoginFailed))
	assert.Equal(t, 0, calls)
}

func TestLogin_FailureKeepsPreviousAccount(t *testing.T) {
	fake := testutl.NewFakeGitHub(t, "abc123", "alice", "http://x/a.png")
	fake.AddGist(testutl.FakeFile{Name: backup.FileName})
	env := newTestEnv(t, fakeClients(fake), "{}")
	ctx := context.Background()

	assert.NoError(t, env.provider.Login(ctx, LoginData{Password: "abc123"}))
	before, ok := env.provider.LatestLoginData(ctx)
	assert.True(t, ok)

	tests := []struct {
		name  string
		setup func()
		token string
	}{
		{"bad credentials", func() {}, "wrong"},
		{"list fails", func() { fake.FailList(http.StatusBadGateway) }, "abc123"},
		{"malformed list", func() { fake.FailList(0); fake.ListBody(`{"oops":1}`) }, "abc123"},
		{"create fails", func() { fake.ListBody(`[]`); fake.FailCreate(http.StatusUnprocessableEntity) }, "abc123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			err := env.provider.Login(ctx, LoginData{Password: tt.token})
			assert.True(t, errors.Is(err, ErrLoginFailed))

			after, ok := env.provider.LatestLoginData(ctx)
			assert.True(t, ok)
			assert.Equal(t, before, after)

			indices, err := env.store.Accounts(IDPrefix)
			assert.NoError(t, err)
			assert.Equal(t, []int{1}, indices)
		})
	}
}

func TestLogin_DecodeFailureIsLoginFailure(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"files not an object", `[{"id":"g9","owner":{"login":"alice"},"files":"nope"}]`},
		{"null list", `null`},
		{"match without owner", `[{"id":"g7","files":{"Cloudstream_Backup_data.txt":{}}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := testutl.NewFakeGitHub(t, "abc123", "alice", "")
			fake.ListBody(tt.body)
			env := newTestEnv(t, fakeClients(fake), "{}")
			ctx := context.Background()

			err := env.provider.Login(ctx, LoginData{Password: "abc123"})
			assert.True(t, errors.Is(err, ErrLoginFailed))
			assert.True(t, errors.Is(err, gist.ErrDecode))
			assert.Equal(t, 0, len(fake.Creates()))
			_, ok := env.provider.LatestLoginData(ctx)
			assert.False(t, ok)
			noEvent(t, env.provider)
		})
	}
}

func TestLogin_CreatedGistWithoutOwnerFails(t *testing.T) {
	env := newTestEnv(t, func(token string) (gist.API, error) {
		return stubAPI{
			list: func() ([]gist.Gist, error) { return []gist.Gist{}, nil },
			create: func(g gist.NewGist) (gist.Gist, error) {
				return gist.Gist{ID: "g1", Files: []gist.File{{Name: backup.FileName}}}, nil
			},
		}, nil
	}, "{}")

	err := env.provider.Login(context.Background(), LoginData{Password: "abc123"})
	assert.True(t, errors.Is(err, ErrLoginFailed))
	assert.True(t, errors.Is(err, gist.ErrDecode))
	_, ok := env.provider.LoginInfo(context.Background())
	assert.False(t, ok)
}

type stubAPI struct {
	gist.API
	list   func() ([]gist.Gist, error)
	create func(gist.NewGist) (gist.Gist, error)
}

func (s stubAPI) List(ctx context.Context) ([]gist.Gist, error) {
	return s.list()
}

func (s stubAPI) Create(ctx context.Context, g gist.NewGist) (gist.Gist, error) {
	return s.create(g)
}

// panickingStore fails the commit step of a login by panicking.
type panickingStore struct {
	*store.BoltStore
}

func (s panickingStore) CommitAccount(prefix string, index int, key string, value []byte) error {
	panic("disk on fire")
}

func TestLogin_RecoversFromPanic(t *testing.T) {
	env := newTestEnv(t, func(token string) (gist.API, error) {
		return stubAPI{list: func() ([]gist.Gist, error) { panic("boom") }}, nil
	}, "{}")

	err := env.provider.Login(context.Background(), LoginData{Password: "abc123"})
	assert.True(t, errors.Is(err, ErrLoginFailed))
	assert.Contains(t, err.Error(), "boom")
}

func TestLogin_RecoversFromPanicDuringCommit(t *testing.T) {
	fake := testutl.NewFakeGitHub(t, "abc123", "alice", "")
	fake.AddGist(testutl.FakeFile{Name: backup.FileName})
	env := newTestEnv(t, fakeClients(fake), "{}")
	p, err := NewGithubProvider(Config{
		Store:     panickingStore{env.store},
		Keyring:   env.keyring,
		Backup:    backup.StaticSource("{}"),
		NewClient: fakeClients(fake),
	})
	assert.NoError(t, err)

	err = p.Login(context.Background(), LoginData{Password: "abc123"})
	assert.True(t, errors.Is(err, ErrLoginFailed))
	assert.Contains(t, err.Error(), "disk on fire")

	indices, err := env.store.Accounts(IDPrefix)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(indices))
	noEvent(t, p)
}

func TestLogin_MatchWithoutIDFails(t *testing.T) {
	env := newTestEnv(t, func(token string) (gist.API, error) {
		return stubAPI{list: func() ([]gist.Gist, error) {
			return []gist.Gist{{Files: []gist.File{{Name: backup.FileName}}}}, nil
		}}, nil
	}, "{}")

	err := env.provider.Login(context.Background(), LoginData{Password: "abc123"})
	assert.True(t, errors.Is(err, ErrLoginFailed))
	noEvent(t, env.provider)
}

func TestLogin_FullEventBufferDoesNotBlock(t *testing.T) {
	fake := testutl.NewFakeGitHub(t, "abc123", "alice", "")
	fake.AddGist(testutl.FakeFile{Name: backup.FileName})
	env := newTestEnv(t, fakeClients(fake), "{}")
	ctx := context.Background()

	assert.NoError(t, env.provider.Login(ctx, LoginData{Password: "abc123"}))
	assert.NoError(t, env.provider.Login(ctx, LoginData{Password: "abc123"}))

	info, ok := env.provider.LoginInfo(ctx)
	assert.True(t, ok)
	assert.Equal(t, 2, info.AccountIndex)

	ev := <-env.provider.Events()
	assert.Equal(t, 1, ev.AccountIndex)
	noEvent(t, env.provider)
}

func TestInitialize(t *testing.T) {
	fake := testutl.NewFakeGitHub(t, "abc123", "alice", "http://x/a.png")
	fake.AddGist(testutl.FakeFile{Name: backup.FileName})
	env := newTestEnv(t, fakeClients(fake), "{}")
	ctx := context.Background()

	env.provider.Initialize(ctx)
	_, ok := env.provider.Current()
	assert.False(t, ok)

	assert.NoError(t, env.provider.Login(ctx, LoginData{Password: "abc123"}))
	env.provider.Initialize(ctx)

	current, ok := env.provider.Current()
	assert.True(t, ok)
	assert.Equal(t, env.persisted(t, 1), current)

	token, err := env.keyring.Get(oskeyring.AccountService(store.AccountID(IDPrefix, 1)), "g1")
	assert.NoError(t, err)
	assert.Equal(t, "abc123", token)
}

func TestInitialize_IncompleteSession(t *testing.T) {
	env := newTestEnv(t, fakeClients(testutl.NewFakeGitHub(t, "abc123", "alice", "")), "{}")
	ctx := context.Background()

	err := env.store.CommitAccount(IDPrefix, 1, session.Key, []byte(`{"gist_id":"g1","user_name":"alice"}`))
	assert.NoError(t, err)

	env.provider.Initialize(ctx)
	_, ok := env.provider.Current()
	assert.False(t, ok)
	assert.Equal(t, 0, env.keyring.Len(oskeyring.AccountService(store.AccountID(IDPrefix, 1))))
}

func TestLogout(t *testing.T) {
	fake := testutl.NewFakeGitHub(t, "abc123", "alice", "http://x/a.png")
	fake.AddGist(testutl.FakeFile{Name: backup.FileName})
	env := newTestEnv(t, fakeClients(fake), "{}")
	ctx := context.Background()

	t.Run("without session", func(t *testing.T) {
		assert.NoError(t, env.provider.Logout(ctx))
		_, ok := env.provider.LatestLoginData(ctx)
		assert.False(t, ok)
	})

	t.Run("after login", func(t *testing.T) {
		assert.NoError(t, env.provider.Login(ctx, LoginData{Password: "abc123"}))
		env.provider.Initialize(ctx)
		service := oskeyring.AccountService(store.AccountID(IDPrefix, 1))
		assert.Equal(t, 1, env.keyring.Len(service))

		assert.NoError(t, env.provider.Logout(ctx))

		_, ok := env.provider.LatestLoginData(ctx)
		assert.False(t, ok)
		_, ok = env.provider.LoginInfo(ctx)
		assert.False(t, ok)
		_, ok = env.provider.Current()
		assert.False(t, ok)
		assert.Equal(t, 0, env.keyring.Len(service))

		indices, err := env.store.Accounts(IDPrefix)
		assert.NoError(t, err)
		assert.Equal(t, 0, len(indices))
	})
}

func TestLoginInfoAndLatestLoginData(t *testing.T) {
	fake := testutl.NewFakeGitHub(t, "abc123", "alice", "http://x/a.png")
	fake.AddGist(testutl.FakeFile{Name: backup.FileName})
	env := newTestEnv(t, fakeClients(fake), "{}")
	ctx := context.Background()

	_, ok := env.provider.LoginInfo(ctx)
	assert.False(t, ok)

	assert.NoError(t, env.provider.Login(ctx, LoginData{Password: "abc123"}))

	info, ok := env.provider.LoginInfo(ctx)
	assert.True(t, ok)
	assert.Equal(t, LoginInfo{ProfilePicture: "http://x/a.png", Name: "alice", AccountIndex: 1}, info)

	data, ok := env.provider.LatestLoginData(ctx)
	assert.True(t, ok)
	assert.Equal(t, LoginData{Server: "g1", Password: "abc123", Username: "alice"}, data)
}

func TestNewGithubProvider_Validation(t *testing.T) {
	_, err := NewGithubProvider(Config{})
	assert.Error(t, err)

	p, err := NewGithubProvider(Config{
		Store:     &store.BoltStore{},
		Keyring:   oskeyring.NewMemoryService(),
		Backup:    backup.StaticSource("{}"),
		NewClient: func(string) (gist.API, error) { return nil, nil },
	})
	assert.NoError(t, err)
	assert.Equal(t, "Github", p.Name())
	assert.True(t, p.RequiresPassword())
	assert.Contains(t, p.CreateAccountURL(), "scopes=gist")
}
