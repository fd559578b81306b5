// Package main provides the gistbackup CLI, which keeps an application backup
// in a private GitHub gist.
package main

import "github.com/mscno/gistbackup/cmd/gistbackup/commands"

func main() {
	commands.Execute(Version)
}
