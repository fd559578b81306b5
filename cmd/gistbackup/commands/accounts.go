package commands

import (
	"errors"
	"fmt"

	"github.com/mscno/gistbackup/pkg/auth"
	"github.com/mscno/gistbackup/pkg/session"
	"github.com/mscno/gistbackup/pkg/store"
)

type AccountsCmd struct {
	List AccountsListCmd `cmd:"" default:"1" help:"List logged-in accounts."`
	Use  AccountsUseCmd  `cmd:"" help:"Make another logged-in account active."`
}

type AccountsListCmd struct{}

func (c *AccountsListCmd) Run(ctx *cliCtx) error {
	indices, err := ctx.Store.Accounts(auth.IDPrefix)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(indices) == 0 {
		fmt.Fprintln(ctx.Out, "No accounts.")
		return nil
	}
	active, err := ctx.Store.Active(auth.IDPrefix)
	if err != nil {
		return fmt.Errorf("failed to read active account: %w", err)
	}

	for _, idx := range indices {
		marker := " "
		if idx == active {
			marker = "*"
		}
		fmt.Fprintf(ctx.Out, "%s %d\t%s\n", marker, idx, accountUser(ctx, idx))
	}
	return nil
}

func accountUser(ctx *cliCtx, index int) string {
	data, err := ctx.Store.Get(store.AccountID(auth.IDPrefix, index), session.Key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			ctx.Logger.Debug("failed to read session", "account", index, "error", err)
		}
		return "-"
	}
	sess, err := session.Decode(data)
	if err != nil && !errors.Is(err, session.ErrIncomplete) {
		return "-"
	}
	if sess.UserName == "" {
		return "-"
	}
	return sess.UserName
}

type AccountsUseCmd struct {
	Index int `arg:"" help:"Account index as shown by 'accounts list'."`
}

func (c *AccountsUseCmd) Run(ctx *cliCtx) error {
	if err := ctx.Store.SetActive(auth.IDPrefix, c.Index); err != nil {
		if errors.Is(err, store.ErrUnknownAccount) {
			return fmt.Errorf("no account %d", c.Index)
		}
		return err
	}
	provider, err := ctx.provider(nil)
	if err != nil {
		return err
	}
	provider.Initialize(ctx)
	fmt.Fprintf(ctx.Out, "Account %d is now active.\n", c.Index)
	return nil
}
