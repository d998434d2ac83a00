// Command stocktrend is the operator tool: it checks workbooks offline and
// imports, exports and migrates against the configured database.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	Register(subcommands.DefaultCommander)

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
