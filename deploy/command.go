package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
	"tangled.sh/tangled.sh/deployer/config"
	"tangled.sh/tangled.sh/deployer/db"
	"tangled.sh/tangled.sh/deployer/lock"
	"tangled.sh/tangled.sh/deployer/log"
	"tangled.sh/tangled.sh/deployer/models"
	"tangled.sh/tangled.sh/deployer/runner"
	"tangled.sh/tangled.sh/deployer/tasks"
)

const environmentVariables = `
Environment variables:
	DEPLOYER_CONFIG_DIR   (default: .deployer)
	DEPLOYER_HISTORY_DB   (default: history.db, inside the config dir)
	DEPLOYER_LOG_LEVEL    (default: info)
	DEPLOYER_SHELL        (default: sh)
	DEPLOYER_SSH          (default: ssh)
	DEPLOYER_LOCK_WAIT    (default: 0s)
`

var waitFlag = &cli.DurationFlag{
	Name:  "wait",
	Usage: "how long to wait for a locked environment",
}

func Command() *cli.Command {
	return &cli.Command{
		Name:        "deploy",
		Usage:       "deploy an environment",
		ArgsUsage:   "<environment>",
		Action:      Run,
		Flags:       []cli.Flag{waitFlag},
		Description: environmentVariables,
	}
}

func RollbackCommand() *cli.Command {
	return &cli.Command{
		Name:      "rollback",
		Usage:     "point an environment back at an older release",
		ArgsUsage: "<environment>",
		Action:    RunRollback,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "release",
				Usage: "release id, or a negative offset from the live release; defaults to the previous one",
			},
			waitFlag,
		},
		Description: environmentVariables,
	}
}

func ReleasesCommand() *cli.Command {
	return &cli.Command{
		Name:        "releases",
		Usage:       "list the releases on every host of an environment",
		ArgsUsage:   "<environment>",
		Action:      RunReleases,
		Description: environmentVariables,
	}
}

func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "show past deployments of an environment",
		ArgsUsage: "<environment>",
		Action:    RunHistory,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "number of deployments to show",
				Value: 20,
			},
		},
		Description: environmentVariables,
	}
}

func Run(ctx context.Context, cmd *cli.Command) error {
	d, closeFn, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	rep, err := d.Deploy(ctx)
	printReport(cmd.Root().Writer, rep)
	return err
}

func RunRollback(ctx context.Context, cmd *cli.Command) error {
	d, closeFn, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	rep, err := d.Rollback(ctx, cmd.String("release"))
	printReport(cmd.Root().Writer, rep)
	return err
}

func RunReleases(ctx context.Context, cmd *cli.Command) error {
	d, closeFn, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	hosts, err := d.Releases(ctx)
	if err != nil {
		return err
	}
	return printReleases(cmd.Root().Writer, hosts)
}

func RunHistory(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	name, err := environmentArg(cmd)
	if err != nil {
		return err
	}

	h, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer h.Close()

	deployments, err := h.GetDeployments(name, int(cmd.Int("limit")))
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	printHistory(cmd.Root().Writer, deployments)
	return nil
}

func environmentArg(cmd *cli.Command) (string, error) {
	name := cmd.Args().First()
	if name == "" {
		return "", errors.New("missing environment name")
	}
	return name, nil
}

func openHistory(cfg *config.Config) (*db.DB, error) {
	path, err := cfg.HistoryPath()
	if err != nil {
		return nil, err
	}
	h, err := db.Make(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	return h, nil
}

func setup(ctx context.Context, cmd *cli.Command) (*Deployer, func(), error) {
	l := log.FromContext(ctx)

	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	name, err := environmentArg(cmd)
	if err != nil {
		return nil, nil, err
	}

	env, err := config.LoadEnvironment(cfg.Paths.ConfigDir, name)
	if err != nil {
		return nil, nil, err
	}

	h, err := openHistory(cfg)
	if err != nil {
		return nil, nil, err
	}

	wait := cfg.Lock.Wait
	if cmd.IsSet("wait") {
		wait = cmd.Duration("wait")
	}

	d := &Deployer{
		Env:      env,
		Registry: tasks.DefaultRegistry(),
		Shell:    runner.LocalShell{Path: cfg.Runtime.Shell},
		SSH:      cfg.Runtime.SSH,
		History:  h,
		Locks:    &lock.Locker{Dir: cfg.Paths.ConfigDir},
		LockWait: wait,
		Holder:   lock.CurrentHolder(),
	}

	return d, func() {
		if err := h.Close(); err != nil {
			l.Error("failed to close history db", "error", err)
		}
	}, nil
}

func printReport(w io.Writer, rep *Report) {
	if rep == nil || len(rep.Results) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "STAGE\tHOST\tTASK\tOUTCOME\n")
	for _, r := range rep.Results {
		host := r.Host
		if host == "" {
			host = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Stage, host, r.Task, r.Outcome)
	}
	tw.Flush()
}

func printReleases(w io.Writer, hosts []HostReleases) error {
	var errs []error
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, h := range hosts {
		if h.Err != nil {
			fmt.Fprintf(tw, "%s\terror: %v\n", h.Host, h.Err)
			errs = append(errs, fmt.Errorf("%s: %w", h.Host, h.Err))
			continue
		}
		if len(h.Releases) == 0 {
			fmt.Fprintf(tw, "%s\tno releases\n", h.Host)
			continue
		}
		for _, r := range h.Releases {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.Host, r.ID, releaseAge(r.ID), releaseFlags(r))
		}
	}
	tw.Flush()
	return errors.Join(errs...)
}

func releaseAge(id string) string {
	t, ok := models.ReleaseTime(id)
	if !ok {
		return "-"
	}
	return humanize.Time(t)
}

func releaseFlags(r tasks.Release) string {
	switch {
	case r.Current && r.Packed:
		return "current, packed"
	case r.Current:
		return "current"
	case r.Packed:
		return "packed"
	}
	return ""
}

func printHistory(w io.Writer, deployments []db.Deployment) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "STARTED\tKIND\tRELEASE\tSTATUS\tTOOK\tERROR\n")
	for _, d := range deployments {
		took := "-"
		if dur := d.Duration(); dur > 0 {
			took = dur.Round(time.Second).String()
		}
		release := d.ReleaseID
		if release == "" {
			release = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(d.StartedAt), d.Kind, release, d.Status, took, d.Error)
	}
	tw.Flush()
}
