package runner

import (
	"context"
	"strings"

	"tangled.sh/tangled.sh/deployer/config"
	"tangled.sh/tangled.sh/deployer/log"
	"tangled.sh/tangled.sh/deployer/models"
)

// Runner executes the commands of one task, either on the controller or on
// the environment's bound host. It never retries: one invocation is reported
// once, as a boolean.
type Runner struct {
	env          *config.Environment
	stage        models.Stage
	releaseAware bool
	shell        Shell
	ssh          string
}

type Option func(*Runner)

func WithShell(s Shell) Option {
	return func(r *Runner) {
		if s != nil {
			r.shell = s
		}
	}
}

// WithSSH sets the ssh binary used for remote commands.
func WithSSH(bin string) Option {
	return func(r *Runner) {
		if bin != "" {
			r.ssh = bin
		}
	}
}

func WithReleaseAware(aware bool) Option {
	return func(r *Runner) {
		r.releaseAware = aware
	}
}

func New(env *config.Environment, stage models.Stage, opts ...Option) *Runner {
	r := &Runner{
		env:   env,
		stage: stage,
		shell: LocalShell{},
		ssh:   "ssh",
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// AsReleaseAware returns a copy whose remote commands change into
// deployment.to only, whatever the task's own capability.
func (r *Runner) AsReleaseAware() *Runner {
	c := *r
	c.releaseAware = true
	return &c
}

func (r *Runner) Environment() *config.Environment {
	return r.env
}

// Local runs command on the controller; success means a zero exit status.
func (r *Runner) Local(ctx context.Context, command string) (bool, string) {
	l := log.FromContext(ctx).With("component", "runner")
	l.Debug("running local command", "command", command)

	out, err := r.shell.Exec(ctx, command)
	out = strings.TrimRight(out, "\r\n")
	if err != nil {
		l.Debug("command failed", "command", command, "error", err)
		return false, out
	}
	return true, out
}

// Remote runs command on the bound host over ssh. With cdFirst the command
// runs inside deployment.to, or inside the current release directory when
// releases are enabled and the runner is not release aware. The host is
// expected on the context logger already.
func (r *Runner) Remote(ctx context.Context, command string, cdFirst bool) (bool, string) {
	body := RemoteBody(r.env, command, cdFirst, r.releaseAware)
	log.FromContext(ctx).Info("running remote command", "command", body)

	return r.Local(ctx, RemoteCommand(r.ssh, r.env, command, cdFirst, r.releaseAware))
}

// Run dispatches on the stage: deploy and post-release work happens on the
// target host, pre-deploy and post-deploy work on the controller.
func (r *Runner) Run(ctx context.Context, command string) (bool, string) {
	if r.stage.IsRemote() {
		return r.Remote(ctx, command, true)
	}
	return r.Local(ctx, command)
}
