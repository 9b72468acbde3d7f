// chatgate keeps a chat gateway session alive and turns its message events
// into snipe history, an optional Postgres archive and an optional AMQP relay.
//
// Usage:
//
//	chatgate run --config configs/chatgate.yaml
//	chatgate version
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/hehbot/chatgate/internal/version"
)

const serviceName = "chatgate"

func main() {
	app := &cli.App{
		Name:    serviceName,
		Usage:   "Chat gateway client with message history, archive and relay",
		Version: version.String(),
		Commands: []*cli.Command{
			runCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Connect to the gateway and process events until stopped",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "configs/chatgate.yaml",
				Usage:   "Path to the configuration file",
				EnvVars: []string{"CHATGATE_CONFIG"},
			},
		},
		Action: func(c *cli.Context) error {
			return exitError(run(c.Context, c.String("config")))
		},
	}
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(c *cli.Context) error {
			info := version.Get()
			fmt.Fprintf(c.App.Writer, "%s %s\ncommit: %s\nbuilt: %s\ngo: %s\n",
				serviceName, info.Version, info.Commit, info.BuildTime, info.GoVersion)
			return nil
		},
	}
}
