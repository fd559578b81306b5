package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/mscno/gistbackup/pkg/store"
)

type StoreKeyCmd struct {
	Export  StoreKeyExportCmd  `cmd:"" help:"Print the store key as a BIP-39 recovery phrase."`
	Recover StoreKeyRecoverCmd `cmd:"" help:"Restore the store key from a recovery phrase."`
}

type StoreKeyExportCmd struct{}

func (c *StoreKeyExportCmd) Run(ctx *cliCtx) error {
	key, err := store.LoadOrCreateKey(ctx.OSKeyring)
	if err != nil {
		return err
	}
	mnemonic, err := store.KeyMnemonic(key)
	if err != nil {
		return err
	}

	fmt.Fprint(ctx.Out, `
============================================================
                    YOUR RECOVERY PHRASE
============================================================

`)
	words := strings.Fields(mnemonic)
	for i, word := range words {
		fmt.Fprint(ctx.Out, word)
		if (i+1)%8 == 0 || i == len(words)-1 {
			fmt.Fprintln(ctx.Out)
		} else {
			fmt.Fprint(ctx.Out, " ")
		}
	}
	fmt.Fprint(ctx.Out, `
============================================================
Store this phrase securely. It unlocks the local store on another device.
============================================================
`)
	return nil
}

type StoreKeyRecoverCmd struct {
	Phrase string `help:"Recovery phrase. Read from stdin when empty." env:"GISTBACKUP_RECOVERY_PHRASE"`
}

func (c *StoreKeyRecoverCmd) Run(ctx *cliCtx) error {
	phrase := c.Phrase
	if phrase == "" {
		fmt.Fprintln(ctx.Out, "Paste your 24-word BIP39 recovery phrase (separated by spaces):")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read recovery phrase: %w", err)
		}
		phrase = line
	}
	key, err := store.KeyFromMnemonic(phrase)
	if err != nil {
		return err
	}
	if err := store.SaveKey(ctx.OSKeyring, key); err != nil {
		return err
	}
	fmt.Fprintln(ctx.Out, "Store key recovered. It takes effect on the next command.")
	return nil
}
