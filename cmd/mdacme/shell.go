package main

import (
	"github.com/abiosoft/ishell"
	"github.com/abiosoft/readline"

	"github.com/root360/mod-md/internal/store"
)

// runShell drops into an interactive REPL exposing add/list/drive plus
// accounts, grounded directly on cmd/acmeshell/main.go's shell construction
// and shell/commands/accounts's listing command - reusing ishell/readline,
// the teacher's own choice for this concern, rather than the subcommand
// dispatch cmdAdd/cmdList/cmdDrive already implement for one-shot use.
func runShell(s store.Store, opts globalOptions) {
	shell := ishell.NewWithConfig(&readline.Config{
		Prompt: "mdacme> ",
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "add",
		Help: "add <domain> [names...] - create a managed domain",
		Func: func(c *ishell.Context) {
			if err := cmdAdd(s, opts, c.Args); err != nil {
				c.Printf("add: %v\n", err)
				return
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "list",
		Help: "list managed domains and their ACME state",
		Func: func(c *ishell.Context) {
			if err := cmdList(s, c.Args); err != nil {
				c.Printf("list: %v\n", err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "drive",
		Help: "drive <name> - run one pass of the driving state machine",
		Func: func(c *ishell.Context) {
			if len(c.Args) == 0 {
				c.Println("drive: requires a managed domain name")
				return
			}
			if err := runDrive(s, opts, c.Args[0]); err != nil {
				c.Printf("drive: %v\n", err)
				return
			}
			c.Printf("managed domain %q driven successfully\n", c.Args[0])
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "accounts",
		Help: "accounts - list local ACME account records",
		Func: func(c *ishell.Context) {
			names, err := s.List(store.GroupAccounts, "*")
			if err != nil {
				c.Printf("accounts: %v\n", err)
				return
			}
			if len(names) == 0 {
				c.Println("no local accounts")
				return
			}
			for _, name := range names {
				c.Println(name)
			}
		},
	})

	shell.Println("Welcome to mdacme")
	shell.Run()
	shell.Println("Goodbye!")
}
