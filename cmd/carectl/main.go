// Command carectl runs operator tasks against the CareLink database:
// migrations, one-time code cleanup and staff/admin account creation.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "carectl:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "carectl",
		Usage: "CareLink operator tasks",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log at debug level",
				Sources: cli.EnvVars("CARECTL_VERBOSE"),
			},
		},
		Commands: []*cli.Command{
			migrateCommand(),
			otpCommand(),
			adminCommand(),
		},
	}
}
