package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
	"tangled.sh/tangled.sh/deployer/config"
	"tangled.sh/tangled.sh/deployer/log"
)

func LockCommand() *cli.Command {
	return &cli.Command{
		Name:      "lock",
		Usage:     "stop deployments of an environment until it is unlocked",
		ArgsUsage: "<environment>",
		Action:    RunLock,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "reason",
				Usage: "shown to whoever tries to deploy",
			},
		},
	}
}

func UnlockCommand() *cli.Command {
	return &cli.Command{
		Name:      "unlock",
		Usage:     "allow deployments of a locked environment again",
		ArgsUsage: "<environment>",
		Action:    RunUnlock,
	}
}

func RunLock(ctx context.Context, cmd *cli.Command) error {
	l := log.FromContext(ctx)

	locker, env, err := setup(ctx, cmd)
	if err != nil {
		return err
	}

	err = locker.Lock(env, Info{
		Holder: CurrentHolder(),
		Reason: cmd.String("reason"),
		Since:  time.Now(),
	})
	if err != nil {
		return err
	}

	l.Info("environment locked", "environment", env)
	return nil
}

func RunUnlock(ctx context.Context, cmd *cli.Command) error {
	l := log.FromContext(ctx)

	locker, env, err := setup(ctx, cmd)
	if err != nil {
		return err
	}

	info, locked, err := locker.Status(env)
	if err != nil {
		return err
	}
	if !locked {
		l.Info("environment was not locked", "environment", env)
		return nil
	}

	if err := locker.Unlock(env); err != nil {
		return err
	}

	l.Info("environment unlocked", "environment", env, "holder", info.Holder, "locked", humanize.Time(info.Since))
	return nil
}

func setup(ctx context.Context, cmd *cli.Command) (Locker, string, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return Locker{}, "", fmt.Errorf("failed to load config: %w", err)
	}

	env := cmd.Args().First()
	if env == "" {
		return Locker{}, "", errors.New("missing environment name")
	}
	if _, err := config.EnvironmentPath(cfg.Paths.ConfigDir, env); err != nil {
		return Locker{}, "", err
	}

	return Locker{Dir: cfg.Paths.ConfigDir}, env, nil
}

// CurrentHolder names the person running the command, as user@host.
func CurrentHolder() string {
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return user + "@" + host
	}
	return user
}
