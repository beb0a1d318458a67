// Command chatfilter runs the chat moderation service and talks to a running
// instance over NATS for administration.
package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "chatfilter",
		Usage:   "chat moderation service: forbidden words, escalating punishments, daily resets",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS server URL",
			Value:   "nats://localhost:4222",
			EnvVars: []string{"NATS_URL"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity (overrides log-settings.level)",
			EnvVars: []string{"CHATFILTER_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log format: text or json (overrides log-settings.format)",
			EnvVars: []string{"CHATFILTER_LOG_FORMAT"},
		},
	}

	app.Commands = []*cli.Command{
		runCommand,
		adminCommand,
	}
	return app.Run(args)
}
