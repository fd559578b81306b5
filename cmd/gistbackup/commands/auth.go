package commands

import (
	"errors"
	"fmt"

	"github.com/mscno/gistbackup/pkg/auth"
	"github.com/mscno/gistbackup/pkg/backup"
	"github.com/mscno/gistbackup/pkg/store"
)

type LoginCmd struct {
	Token      string `env:"GITHUB_TOKEN" help:"GitHub personal access token with the gist scope." short:"t"`
	BackupFile string `help:"Backup to upload when no backup gist exists yet." type:"existingfile" short:"f"`
}

func (c *LoginCmd) Run(ctx *cliCtx) error {
	var source backup.Source
	if c.BackupFile != "" {
		source = backup.FileSource{Path: c.BackupFile}
	}
	provider, err := ctx.provider(source)
	if err != nil {
		return err
	}

	err = provider.Login(ctx, auth.LoginData{Password: c.Token})
	if errors.Is(err, auth.ErrTokenRequired) {
		fmt.Fprintf(ctx.Out, "Create a token with the gist scope at:\n  %s\n", provider.CreateAccountURL())
		return err
	}
	if err != nil {
		return err
	}
	provider.Initialize(ctx)

	info, _ := provider.LoginInfo(ctx)
	fmt.Fprintf(ctx.Out, "Logged in as %s (account %d).\n", info.Name, info.AccountIndex)

	for {
		select {
		case ev := <-provider.Events():
			if ev.Kind == auth.EventRestorePrompt {
				fmt.Fprintf(ctx.Out, "Found existing backup gist %s. Run 'gistbackup backup pull' to restore it.\n", ev.Session.GistID)
			}
		default:
			return nil
		}
	}
}

type LogoutCmd struct{}

func (c *LogoutCmd) Run(ctx *cliCtx) error {
	provider, err := ctx.provider(nil)
	if err != nil {
		return err
	}
	active, err := ctx.Store.Active(auth.IDPrefix)
	if err != nil {
		return fmt.Errorf("failed to read active account: %w", err)
	}
	if active == store.NoAccount {
		fmt.Fprintln(ctx.Out, "Not logged in.")
		return nil
	}
	info, ok := provider.LoginInfo(ctx)
	if err := provider.Logout(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	if ok {
		fmt.Fprintf(ctx.Out, "Logged out %s (account %d).\n", info.Name, active)
	} else {
		fmt.Fprintf(ctx.Out, "Logged out account %d.\n", active)
	}
	return nil
}

type InfoCmd struct{}

func (c *InfoCmd) Run(ctx *cliCtx) error {
	provider, err := ctx.provider(nil)
	if err != nil {
		return err
	}
	info, ok := provider.LoginInfo(ctx)
	if !ok {
		fmt.Fprintln(ctx.Out, "Not logged in.")
		return nil
	}
	fmt.Fprintf(ctx.Out, "Provider: %s\n", provider.Name())
	fmt.Fprintf(ctx.Out, "Account:  %d\n", info.AccountIndex)
	fmt.Fprintf(ctx.Out, "User:     %s\n", info.Name)
	if info.ProfilePicture != "" {
		fmt.Fprintf(ctx.Out, "Avatar:   %s\n", info.ProfilePicture)
	}
	return nil
}

type StatusCmd struct{}

func (c *StatusCmd) Run(ctx *cliCtx) error {
	provider, err := ctx.provider(nil)
	if err != nil {
		return err
	}
	data, ok := provider.LatestLoginData(ctx)
	if !ok {
		fmt.Fprintln(ctx.Out, "Not logged in.")
		return nil
	}
	fmt.Fprintf(ctx.Out, "User: %s\n", data.Username)
	fmt.Fprintf(ctx.Out, "Gist: %s\n", data.Server)
	return nil
}
