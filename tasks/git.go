package tasks

import (
	"context"
	"strings"

	"tangled.sh/tangled.sh/deployer/release"
	"tangled.sh/tangled.sh/deployer/task"
)

// GitUpdateCache refreshes the shared git checkout on the host and, when
// releases are enabled, exports the branch into the new release.
type GitUpdateCache struct {
	task.Base
}

func NewGitUpdateCache(b task.Base) task.Task {
	return &GitUpdateCache{Base: b}
}

func (t *GitUpdateCache) Name() string {
	return NameGitUpdateCache
}

func (t *GitUpdateCache) ManagesReleasePath() {}

func (t *GitUpdateCache) Run(ctx context.Context) (bool, error) {
	if release.NewResolver(t.Config()).GitCacheDir() == "" {
		return false, task.Skip("git cache is disabled")
	}

	branch := t.StringParameter("branch", "main")
	ok, _ := t.RunCommandRemote(ctx, t.GitCacheAwareCommand(
		"git fetch --all --prune && git reset --hard origin/"+branch,
	), true)
	if !ok {
		return false, nil
	}

	env := t.Config()
	if !env.ReleasesEnabled() || !t.BoolParameter("export", true) {
		return true, nil
	}

	target := strings.TrimRight(env.DeployTo(), "/") + "/" + env.ReleasesDirectory() + "/" + env.ReleaseID()
	ok, _ = t.RunCommandRemote(ctx, t.GitCacheAwareCommand(
		"mkdir -p "+target+" && git archive --format=tar origin/"+branch+" | tar -x -f - -C "+target,
	), true)
	return ok, nil
}
