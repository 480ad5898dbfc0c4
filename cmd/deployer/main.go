package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"
	"tangled.sh/tangled.sh/deployer/config"
	"tangled.sh/tangled.sh/deployer/deploy"
	"tangled.sh/tangled.sh/deployer/lock"
	"tangled.sh/tangled.sh/deployer/log"
)

func main() {
	cmd := &cli.Command{
		Name:  "deployer",
		Usage: "task based deployment of releases over ssh",
		Commands: []*cli.Command{
			deploy.Command(),
			deploy.RollbackCommand(),
			deploy.ReleasesCommand(),
			deploy.HistoryCommand(),
			lock.LockCommand(),
			lock.UnlockCommand(),
		},
	}

	ctx := context.Background()

	c, err := config.Load(ctx)
	if err == nil {
		err = log.SetLevel(c.Runtime.LogLevel)
	}

	logger := log.New("deployer")
	if err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
	ctx = log.IntoContext(ctx, logger.With("command", cmd.Name))

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
}
