package commands

import (
	"fmt"
	"os"

	"github.com/mscno/gistbackup/pkg/backup"
	"github.com/mscno/gistbackup/pkg/session"
)

type BackupCmd struct {
	Push BackupPushCmd `cmd:"" help:"Upload a backup file to the active account's gist."`
	Pull BackupPullCmd `cmd:"" help:"Download the backup from the active account's gist."`
}

type BackupPushCmd struct {
	File string `arg:"" help:"Backup file to upload." type:"existingfile"`
}

func (c *BackupPushCmd) Run(ctx *cliCtx) error {
	sess, err := activeSession(ctx)
	if err != nil {
		return err
	}
	payload, err := backup.FileSource{Path: c.File}.Backup(ctx)
	if err != nil {
		return err
	}
	if err := ctx.syncer().Push(ctx, sess, payload); err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	fmt.Fprintf(ctx.Out, "Uploaded %d bytes to gist %s.\n", len(payload), sess.GistID)
	return nil
}

type BackupPullCmd struct {
	Out string `help:"Write the backup to this file instead of stdout." short:"o" type:"path"`
}

func (c *BackupPullCmd) Run(ctx *cliCtx) error {
	sess, err := activeSession(ctx)
	if err != nil {
		return err
	}
	payload, err := ctx.syncer().Pull(ctx, sess)
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}
	if c.Out == "" {
		_, err = ctx.Out.Write(payload)
		return err
	}
	if err := os.WriteFile(c.Out, payload, 0600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	fmt.Fprintf(ctx.Out, "Wrote %d bytes to %s.\n", len(payload), c.Out)
	return nil
}

// activeSession loads the active account through the provider so that the
// keyring registration done by Initialize also happens for backup commands.
func activeSession(ctx *cliCtx) (session.Session, error) {
	provider, err := ctx.provider(nil)
	if err != nil {
		return session.Session{}, err
	}
	provider.Initialize(ctx)
	sess, ok := provider.Current()
	if !ok {
		return session.Session{}, fmt.Errorf("not logged in, run 'gistbackup login' first")
	}
	return sess, nil
}
