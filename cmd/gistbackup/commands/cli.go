package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/mscno/gistbackup/pkg/auth"
	"github.com/mscno/gistbackup/pkg/backup"
	"github.com/mscno/gistbackup/pkg/gist"
	"github.com/mscno/gistbackup/pkg/oskeyring"
	"github.com/mscno/gistbackup/pkg/store"
)

// storeFileName is the bbolt file inside the data directory.
const storeFileName = "store.db"

type cliCtx struct {
	context.Context
	Logger    *slog.Logger
	OSKeyring oskeyring.Service
	Store     *store.BoltStore
	APIURL    string
	Out       io.Writer
}

type cli struct {
	DataDir string `help:"Directory holding the local session store." env:"GISTBACKUP_DATA_DIR" type:"path"`
	APIURL  string `name:"api-url" help:"GitHub REST API base URL." env:"GISTBACKUP_API_URL" default:"${api_url}"`
	Debug   bool   `help:"Enable debug logging." env:"GISTBACKUP_DEBUG"`

	Login    LoginCmd         `cmd:"" help:"Log in with a GitHub personal access token (scope: gist)."`
	Logout   LogoutCmd        `cmd:"" help:"Forget the active account and its keys."`
	Info     InfoCmd          `cmd:"" help:"Show the profile of the active account."`
	Status   StatusCmd        `cmd:"" help:"Show the backup gist of the active account."`
	Accounts AccountsCmd      `cmd:"" help:"List or switch logged-in accounts."`
	Backup   BackupCmd        `cmd:"" help:"Push or pull the backup file."`
	StoreKey StoreKeyCmd      `cmd:"" name:"store-key" help:"Export or recover the key protecting the local store."`
	Version  kong.VersionFlag `help:"Show version"`
}

// Execute parses the command line and runs the selected command.
func Execute(version string) {
	loadDotEnv()

	var cli cli
	kctx := kong.Parse(&cli,
		kong.UsageOnError(),
		kong.Name("gistbackup"),
		kong.Description("gistbackup keeps an application backup in a private GitHub gist"),
		kong.Vars{
			"version": version,
			"api_url": gist.DefaultBaseURL,
		},
	)

	ctx, err := newCliCtx(context.Background(), &cli, oskeyring.NewDefaultService())
	kctx.FatalIfErrorf(err)

	err = kctx.Run(ctx)
	if closeErr := ctx.Close(); closeErr != nil {
		ctx.Logger.Warn("failed to close store", "error", closeErr)
	}
	kctx.FatalIfErrorf(err)
}

// loadDotEnv makes variables from ./.env visible to the env-tagged flags.
// Variables already set in the environment win.
func loadDotEnv() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}
}

func newCliCtx(ctx context.Context, c *cli, keyring oskeyring.Service) (*cliCtx, error) {
	level := slog.LevelInfo
	if c.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	dataDir := c.DataDir
	if dataDir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("--data-dir required (auto-detect failed: %w)", err)
		}
		dataDir = filepath.Join(configDir, "gistbackup")
	}
	st, err := openStore(dataDir, keyring)
	if err != nil {
		return nil, err
	}
	logger.Debug("opened store", "dir", dataDir)

	return &cliCtx{
		Context:   ctx,
		Logger:    logger,
		OSKeyring: keyring,
		Store:     st,
		APIURL:    c.APIURL,
		Out:       os.Stdout,
	}, nil
}

func openStore(dataDir string, keyring oskeyring.Service) (*store.BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	key, err := store.LoadOrCreateKey(keyring)
	if err != nil {
		return nil, err
	}
	sealer, err := store.NewSealer(key)
	if err != nil {
		return nil, err
	}
	return store.NewBoltStore(filepath.Join(dataDir, storeFileName), sealer)
}

func (c *cliCtx) Close() error {
	if c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

func (c *cliCtx) clientFactory() backup.ClientFactory {
	return func(token string) (gist.API, error) {
		return gist.NewClient(gist.Config{
			Token:   token,
			BaseURL: c.APIURL,
			Logger:  c.Logger,
		})
	}
}

// provider builds the GitHub provider. source is only consulted when a login
// has to create a new backup gist.
func (c *cliCtx) provider(source backup.Source) (*auth.GithubProvider, error) {
	if source == nil {
		source = backup.StaticSource("{}")
	}
	return auth.NewGithubProvider(auth.Config{
		Store:     c.Store,
		Keyring:   c.OSKeyring,
		Backup:    source,
		NewClient: c.clientFactory(),
		Logger:    c.Logger,
	})
}

func (c *cliCtx) syncer() *backup.Syncer {
	return backup.NewSyncer(c.clientFactory(), c.Logger)
}
