package task

import (
	"context"
	"maps"

	"tangled.sh/tangled.sh/deployer/config"
	"tangled.sh/tangled.sh/deployer/models"
	"tangled.sh/tangled.sh/deployer/release"
	"tangled.sh/tangled.sh/deployer/runner"
)

// Task is a unit of work in a deployment pipeline.
//
// Run reports the outcome: (true, nil) is success and (false, nil) an
// ordinary failure. Returning an error from Skip skips the task without
// failing the pipeline; an error from Fatal or Fatalf aborts the run. Any
// other error counts as an ordinary failure. See Classify.
type Task interface {
	Name() string
	Run(ctx context.Context) (bool, error)
}

// Initializer is implemented by tasks that need one-off setup. Init is
// called exactly once, by New, before the task is handed out.
type Initializer interface {
	Init()
}

// ReleaseAware is implemented by tasks that manage the release path
// themselves. Their remote commands change into deployment.to instead of
// the current release directory.
type ReleaseAware interface {
	ManagesReleasePath()
}

// Env is everything a task is constructed with. It is copied into the
// task and never changes afterwards.
type Env struct {
	Config     *config.Environment
	Stage      models.Stage
	Rollback   bool
	Parameters map[string]any

	// Shell and SSH select how commands are executed; zero values use
	// `sh -c` and `ssh`.
	Shell runner.Shell
	SSH   string
}

// Constructor builds a task around b. Tasks embed Base and are returned
// as pointers:
//
//	func(b task.Base) task.Task { return &Install{Base: b} }
type Constructor func(b Base) Task

// New is the only place a task's state is set.
func New(ctor Constructor, env Env) Task {
	b := Base{
		env:      env.Config,
		stage:    env.Stage,
		rollback: env.Rollback,
		params:   maps.Clone(env.Parameters),
	}
	t := ctor(b)

	_, aware := t.(ReleaseAware)
	if bound, ok := t.(interface{ base() *Base }); ok {
		bound.base().runner = runner.New(env.Config, env.Stage,
			runner.WithShell(env.Shell),
			runner.WithSSH(env.SSH),
			runner.WithReleaseAware(aware),
		)
	}

	if i, ok := t.(Initializer); ok {
		i.Init()
	}
	return t
}

// Base carries the construction time state of a task and the command
// helpers every task uses. Embed it; do not copy it after New.
type Base struct {
	env      *config.Environment
	stage    models.Stage
	rollback bool
	params   map[string]any
	runner   *runner.Runner
}

func (b *Base) base() *Base {
	return b
}

func (b *Base) Config() *config.Environment {
	return b.env
}

func (b *Base) InRollback() bool {
	return b.rollback
}

func (b *Base) Stage() models.Stage {
	return b.stage
}

// Parameter looks name up in the task's own parameters, then in the
// environment's parameters, and falls back to def.
func (b *Base) Parameter(name string, def any) any {
	if v, ok := b.params[name]; ok && v != nil {
		return v
	}
	if b.env == nil {
		return def
	}
	return b.env.Parameter(name, def)
}

func (b *Base) StringParameter(name, def string) string {
	return config.ToString(b.Parameter(name, nil), def)
}

func (b *Base) BoolParameter(name string, def bool) bool {
	return config.ToBool(b.Parameter(name, nil), def)
}

func (b *Base) IntParameter(name string, def int) int {
	return config.ToInt(b.Parameter(name, nil), def)
}

func (b *Base) RunCommandLocal(ctx context.Context, command string) (bool, string) {
	return b.runner.Local(ctx, command)
}

func (b *Base) RunCommandRemote(ctx context.Context, command string, cdFirst bool) (bool, string) {
	return b.runner.Remote(ctx, command, cdFirst)
}

// RunCommand runs on the target host in the deploy and post-release
// stages and on the controller otherwise.
func (b *Base) RunCommand(ctx context.Context, command string) (bool, string) {
	return b.runner.Run(ctx, command)
}

func (b *Base) ReleasesAwareCommand(command string) string {
	return release.NewResolver(b.env).ReleasesAware(command)
}

func (b *Base) GitCacheAwareCommand(command string) string {
	return release.NewResolver(b.env).GitCacheAware(command)
}

func (b *Base) RsyncCacheAwareCommand(command string) string {
	return release.NewResolver(b.env).RsyncCacheAware(command)
}

func (b *Base) Packager() release.Packager {
	return release.NewPackager(b.runner)
}

func (b *Base) TarRelease(ctx context.Context, id string) bool {
	return b.Packager().Tar(ctx, id)
}

func (b *Base) UntarRelease(ctx context.Context, id string) bool {
	return b.Packager().Untar(ctx, id)
}
