package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"tangled.sh/tangled.sh/deployer/config"
	"tangled.sh/tangled.sh/deployer/db"
	"tangled.sh/tangled.sh/deployer/lock"
	"tangled.sh/tangled.sh/deployer/log"
	"tangled.sh/tangled.sh/deployer/models"
	"tangled.sh/tangled.sh/deployer/runner"
	"tangled.sh/tangled.sh/deployer/task"
	"tangled.sh/tangled.sh/deployer/tasks"
)

var ErrDeployFailed = errors.New("deployment failed")

// Deployer runs the pipeline of one environment. Tasks run one at a time,
// strictly in stage order; hosts are visited in configuration order.
type Deployer struct {
	Env      *config.Environment
	Registry *task.Registry

	Shell runner.Shell
	SSH   string

	// History and Locks are optional.
	History  *db.DB
	Locks    *lock.Locker
	LockWait time.Duration
	Holder   string

	Now func() time.Time
}

// Result is the outcome of one task on one host. Host is empty for the
// stages that run on the controller.
type Result struct {
	Host    string
	Stage   models.Stage
	Task    string
	Outcome task.Outcome
	Err     error
}

type Report struct {
	RunID       string
	Environment string
	ReleaseID   string
	Results     []Result
	FailedHosts []string
}

func (r *Report) Failed() bool {
	if len(r.FailedHosts) > 0 {
		return true
	}
	for _, res := range r.Results {
		if res.Outcome == task.OutcomeFailure || res.Outcome == task.OutcomeFatal {
			return true
		}
	}
	return false
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
}

func (r *Report) hostFailed(host string) {
	r.FailedHosts = append(r.FailedHosts, host)
}

func (d *Deployer) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deployer) registry() *task.Registry {
	if d.Registry == nil {
		d.Registry = tasks.DefaultRegistry()
	}
	return d.Registry
}

// Strategy is the task that moves the code onto each host:
// deployment/<deployment.strategy>, rsync unless configured otherwise.
// "disabled" turns the step off.
func Strategy(env *config.Environment) string {
	s := env.Deployment("strategy", "rsync")
	if s == "" || s == "disabled" {
		return ""
	}
	return "deployment/" + s
}

// Deploy runs a full deployment. A fatal task error is returned as is; a
// run where some step failed returns the report and an ErrDeployFailed.
//
//  1. pre-deploy steps on the controller; any failure aborts
//  2. per host, the strategy task then the on-deploy steps; a failure stops
//     that host only
//  3. when every host deployed: per host, releases/link, the post-release
//     steps and releases/rotate
//  4. post-deploy steps on the controller
func (d *Deployer) Deploy(ctx context.Context) (*Report, error) {
	env := d.Env.WithReleaseID(models.NewReleaseID(d.now()))
	rep := &Report{
		RunID:       uuid.NewString(),
		Environment: env.Name(),
		ReleaseID:   env.ReleaseID(),
	}

	l := log.FromContext(ctx).With("run", rep.RunID, "environment", env.Name())
	ctx = log.IntoContext(ctx, l)

	if err := d.Check(env); err != nil {
		return rep, err
	}

	unlock, err := d.lock(ctx, env, "deploy "+rep.ReleaseID)
	if err != nil {
		return rep, err
	}
	defer unlock()

	d.startHistory(ctx, rep, db.KindDeploy)
	l.Info("starting deployment", "release", rep.ReleaseID, "hosts", env.Hosts())

	err = d.deploy(ctx, env, rep)
	d.finishHistory(ctx, rep, err)

	if err != nil {
		l.Error("deployment failed", "error", err)
		return rep, err
	}
	l.Info("deployment finished", "release", rep.ReleaseID)
	return rep, nil
}

func (d *Deployer) deploy(ctx context.Context, env *config.Environment, rep *Report) error {
	ok, err := d.runSteps(ctx, env, "", models.StagePreDeploy, env.Steps(models.StagePreDeploy), false, rep)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: pre-deploy", ErrDeployFailed)
	}

	hosts := env.Hosts()
	for _, host := range hosts {
		hostEnv := env.WithHost(host)

		steps := hostEnv.Steps(models.StageDeploy)
		if s := Strategy(hostEnv); s != "" {
			steps = append([]config.Step{{Name: s}}, steps...)
		}

		ok, err := d.runSteps(ctx, hostEnv, host, models.StageDeploy, steps, false, rep)
		if err != nil {
			return err
		}
		if !ok {
			rep.hostFailed(host)
		}
	}
	if len(rep.FailedHosts) > 0 {
		return fmt.Errorf("%w: %s", ErrDeployFailed, strings.Join(rep.FailedHosts, ", "))
	}

	for _, host := range hosts {
		hostEnv := env.WithHost(host)

		var steps []config.Step
		if hostEnv.ReleasesEnabled() {
			steps = append(steps, config.Step{Name: tasks.NameReleasesLink})
		}
		steps = append(steps, hostEnv.Steps(models.StagePostRelease)...)
		if hostEnv.ReleasesEnabled() {
			steps = append(steps, config.Step{Name: tasks.NameReleasesRotate})
		}

		ok, err := d.runSteps(ctx, hostEnv, host, models.StagePostRelease, steps, false, rep)
		if err != nil {
			return err
		}
		if !ok {
			rep.hostFailed(host)
		}
	}
	if len(rep.FailedHosts) > 0 {
		return fmt.Errorf("%w: %s", ErrDeployFailed, strings.Join(rep.FailedHosts, ", "))
	}

	ok, err = d.runSteps(ctx, env, "", models.StagePostDeploy, env.Steps(models.StagePostDeploy), false, rep)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: post-deploy", ErrDeployFailed)
	}
	return nil
}

// Rollback points every host back at an older release (see
// tasks.Rollback for how release selects it) and reruns the post-release
// steps there.
func (d *Deployer) Rollback(ctx context.Context, release string) (*Report, error) {
	env := d.Env
	rep := &Report{
		RunID:       uuid.NewString(),
		Environment: env.Name(),
		ReleaseID:   release,
	}

	l := log.FromContext(ctx).With("run", rep.RunID, "environment", env.Name())
	ctx = log.IntoContext(ctx, l)

	if err := d.Check(env); err != nil {
		return rep, err
	}
	if !env.ReleasesEnabled() {
		return rep, task.Fatal("cannot roll back " + env.Name() + ": " + tasks.ErrReleasesDisabled.Error())
	}

	unlock, err := d.lock(ctx, env, "rollback")
	if err != nil {
		return rep, err
	}
	defer unlock()

	d.startHistory(ctx, rep, db.KindRollback)

	err = d.rollback(ctx, env, release, rep)
	d.finishHistory(ctx, rep, err)

	if err != nil {
		l.Error("rollback failed", "error", err)
		return rep, err
	}
	l.Info("rollback finished")
	return rep, nil
}

func (d *Deployer) rollback(ctx context.Context, env *config.Environment, release string, rep *Report) error {
	resolved := false
	for _, host := range env.Hosts() {
		hostEnv := env.WithHost(host)

		t, err := d.build(hostEnv, models.StageDeploy, config.Step{
			Name:       tasks.NameReleasesRollback,
			Parameters: map[string]any{"release": release},
		}, true)
		if err != nil {
			return err
		}

		res := d.run(ctx, host, models.StageDeploy, t)
		rep.add(res)

		target := ""
		if rb, ok := t.(*tasks.Rollback); ok {
			target = rb.Target()
		}
		// the report carries the release actually chosen, not the selector
		if target != "" && !resolved {
			rep.ReleaseID = target
			resolved = true
		}

		switch res.Outcome {
		case task.OutcomeFatal:
			return res.Err
		case task.OutcomeFailure:
			rep.hostFailed(host)
			continue
		case task.OutcomeSkipped:
			continue
		}

		ok, err := d.runSteps(ctx, hostEnv.WithReleaseID(target), host, models.StagePostRelease, hostEnv.Steps(models.StagePostRelease), true, rep)
		if err != nil {
			return err
		}
		if !ok {
			rep.hostFailed(host)
		}
	}

	if len(rep.FailedHosts) > 0 {
		return fmt.Errorf("%w: %s", ErrDeployFailed, strings.Join(rep.FailedHosts, ", "))
	}
	return nil
}

// HostReleases is the release listing of one host.
type HostReleases struct {
	Host     string
	Releases []tasks.Release
	Err      error
}

// Releases lists the releases of every host, newest first.
func (d *Deployer) Releases(ctx context.Context) ([]HostReleases, error) {
	env := d.Env
	if !env.ReleasesEnabled() {
		return nil, tasks.ErrReleasesDisabled
	}
	if err := d.Check(env); err != nil {
		return nil, err
	}

	var out []HostReleases
	for _, host := range env.Hosts() {
		t, err := d.build(env.WithHost(host), models.StageDeploy, config.Step{Name: tasks.NameReleasesList}, false)
		if err != nil {
			return nil, err
		}

		hr := HostReleases{Host: host}
		if lister, ok := t.(interface {
			Releases(context.Context) ([]tasks.Release, error)
		}); ok {
			hctx := log.IntoContext(ctx, log.FromContext(ctx).With("host", host))
			hr.Releases, hr.Err = lister.Releases(hctx)
		} else {
			hr.Err = fmt.Errorf("task %s does not list releases", tasks.NameReleasesList)
		}
		out = append(out, hr)
	}
	return out, nil
}

// runSteps reports false at the first failed step. The error is set only
// when a step was fatal.
func (d *Deployer) runSteps(ctx context.Context, env *config.Environment, host string, stage models.Stage, steps []config.Step, rollback bool, rep *Report) (bool, error) {
	for _, step := range steps {
		t, err := d.build(env, stage, step, rollback)
		if err != nil {
			return false, err
		}

		res := d.run(ctx, host, stage, t)
		rep.add(res)

		switch res.Outcome {
		case task.OutcomeFatal:
			return false, res.Err
		case task.OutcomeFailure:
			return false, nil
		}
	}
	return true, nil
}

func (d *Deployer) build(env *config.Environment, stage models.Stage, step config.Step, rollback bool) (task.Task, error) {
	t, err := d.registry().Build(step.Name, task.Env{
		Config:     env,
		Stage:      stage,
		Rollback:   rollback,
		Parameters: step.Parameters,
		Shell:      d.Shell,
		SSH:        d.SSH,
	})
	if err != nil {
		return nil, task.Fatalf("%s: %w", stage, err)
	}
	return t, nil
}

func (d *Deployer) run(ctx context.Context, host string, stage models.Stage, t task.Task) Result {
	l := log.FromContext(ctx).With("stage", stage.String(), "task", t.Name())
	if host != "" {
		l = l.With("host", host)
	}

	start := time.Now()
	ok, err := t.Run(log.IntoContext(ctx, l))
	res := Result{
		Host:    host,
		Stage:   stage,
		Task:    t.Name(),
		Outcome: task.Classify(ok, err),
		Err:     err,
	}

	attrs := []any{"outcome", res.Outcome.String(), "took", time.Since(start)}
	switch res.Outcome {
	case task.OutcomeSuccess:
		l.Info("task finished", attrs...)
	case task.OutcomeSkipped:
		l.Info("task skipped", append(attrs, "reason", err)...)
	case task.OutcomeFailure:
		if err != nil {
			attrs = append(attrs, "error", err)
		}
		l.Error("task failed", attrs...)
	case task.OutcomeFatal:
		l.Error("task aborted the run", append(attrs, "error", err)...)
	}
	return res
}

func (d *Deployer) lock(ctx context.Context, env *config.Environment, reason string) (func(), error) {
	if d.Locks == nil {
		return func() {}, nil
	}

	holder := d.Holder
	if holder == "" {
		holder = "deployer"
	}

	err := d.Locks.Acquire(ctx, env.Name(), lock.Info{
		Holder: holder,
		Reason: reason,
		Since:  d.now(),
	}, d.LockWait)
	if err != nil {
		return nil, task.Fatalf("cannot %s: %w", reason, err)
	}

	return func() {
		if err := d.Locks.Unlock(env.Name()); err != nil {
			log.FromContext(ctx).Error("failed to release lock", "error", err)
		}
	}, nil
}

func (d *Deployer) startHistory(ctx context.Context, rep *Report, kind db.DeploymentKind) {
	if d.History == nil {
		return
	}
	if err := d.History.StartDeployment(rep.RunID, rep.Environment, rep.ReleaseID, kind); err != nil {
		log.FromContext(ctx).Error("failed to record deployment", "error", err)
	}
}

func (d *Deployer) finishHistory(ctx context.Context, rep *Report, runErr error) {
	if d.History == nil {
		return
	}

	status := db.DeploymentSuccess
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
		status = db.DeploymentFailed
		var fatal *task.FatalError
		if errors.As(runErr, &fatal) {
			status = db.DeploymentAborted
		}
	}

	if err := d.History.FinishDeployment(rep.RunID, rep.ReleaseID, status, msg); err != nil {
		log.FromContext(ctx).Error("failed to record deployment", "error", err)
	}
}
